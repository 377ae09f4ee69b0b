package openformats

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSkinnedMesh(t *testing.T, path string, bone int) {
	t.Helper()
	c := triangleChunk()
	for i := range c.Vertices {
		c.Vertices[i].BoneIndices = [INFLUENCES]int{bone, 1, 1, 1}
		c.Vertices[i].Weights = [INFLUENCES]float32{1, 0, 0, 0}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := MeshWriteTo(path, []*GeometryChunk{c}, WriteOptions{Declaration: HighOpaque}); err != nil {
		t.Fatal(err)
	}
}

func odrText(skeleton, mesh string) string {
	var sb strings.Builder
	sb.WriteString("Version 110 12\n{\n")
	if skeleton != "" {
		sb.WriteString("\tSkeleton " + skeleton + "\n")
	}
	sb.WriteString("\tLodGroup\n\t{\n\t\tHigh 30.0\n\t\t{\n\t\t\t" + mesh + " 0\n\t\t}\n\t}\n}\n")
	return sb.String()
}

func TestApplyODDOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "skel", "ped.skel"), sampleSkel)
	writeSkinnedMesh(t, filepath.Join(dir, "a.mesh"), 1)
	writeSkinnedMesh(t, filepath.Join(dir, "b.mesh"), 2)
	writeFile(t, filepath.Join(dir, "a.odr"), odrText("", "a.mesh"))
	writeFile(t, filepath.Join(dir, "b.odr"), odrText("skel\\ped.skel", "b.mesh"))
	odd := writeFile(t, filepath.Join(dir, "set.odd"), "a.odr\nb.odr\n")

	col, err := NewImporter(nil).ImportODD(odd)
	if err != nil {
		t.Fatal(err)
	}
	if len(col.Failures) != 0 {
		t.Fatalf("Expected no failures, got %v", col.Failures)
	}
	if len(col.Objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(col.Objects))
	}
	a, b := col.Objects[0], col.Objects[1]
	if col.Override == nil || col.Override.Path != b.ODR.SkeletonPath {
		t.Fatalf("Expected override from b.odr's skeleton %s, got %+v", b.ODR.SkeletonPath, col.Override)
	}
	if a.ODR.HasSkeleton() {
		t.Errorf("Expected a.odr to declare no skeleton")
	}
	if a.Skeleton != col.Override || b.Skeleton != col.Override {
		t.Errorf("Expected both objects rigged to the shared skeleton")
	}
	if g := a.Meshes[0].Groups[1]; g != "Spine" {
		t.Errorf("Expected a's bone 1 to rig to Spine, got %q", g)
	}
	if g := b.Meshes[0].Groups[2]; g != "Head" {
		t.Errorf("Expected b's bone 2 to rig to Head, got %q", g)
	}
}

func TestApplyODDSkipsBrokenSkeleton(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.skel"), sampleSkel)
	writeFile(t, filepath.Join(dir, "bad.skel"), "Version 107 11\n{\n}\n")
	writeSkinnedMesh(t, filepath.Join(dir, "m.mesh"), 0)
	writeFile(t, filepath.Join(dir, "a.odr"), odrText("bad.skel", "m.mesh"))
	writeFile(t, filepath.Join(dir, "b.odr"), odrText("good.skel", "m.mesh"))
	odd := writeFile(t, filepath.Join(dir, "set.odd"), "a.odr\nmissing.odr\nb.odr\n")

	col, err := NewImporter(nil).ImportODD(odd)
	if err != nil {
		t.Fatal(err)
	}
	if col.Override == nil || filepath.Base(col.Override.Path) != "good.skel" {
		t.Fatalf("Expected good.skel as override, got %+v", col.Override)
	}
	if len(col.Objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(col.Objects))
	}
	refs := 0
	for _, f := range col.Failures {
		if errors.Is(f, ErrReference) {
			refs++
		}
	}
	if refs != 2 {
		t.Errorf("Expected missing odr and bad skeleton as reference failures, got %v", col.Failures)
	}
	a := col.Objects[0]
	if a.Skeleton != col.Override {
		t.Errorf("Expected a.odr to fall back to the override")
	}
	if len(a.Failures) != 1 || !errors.Is(a.Failures[0], ErrReference) {
		t.Errorf("Expected a.odr to record its broken skeleton, got %v", a.Failures)
	}
}

func TestApplyODDFirstDeclaredOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.skel"), sampleSkel)
	writeFile(t, filepath.Join(dir, "bad.skel"), "Version 107 11\n{\n}\n")
	writeSkinnedMesh(t, filepath.Join(dir, "m.mesh"), 0)
	writeFile(t, filepath.Join(dir, "a.odr"), odrText("bad.skel", "m.mesh"))
	writeFile(t, filepath.Join(dir, "b.odr"), odrText("good.skel", "m.mesh"))
	odd := writeFile(t, filepath.Join(dir, "set.odd"), "a.odr\nb.odr\n")

	im := NewImporter(nil)
	im.FirstDeclaredOnly = true
	col, err := im.ImportODD(odd)
	if err != nil {
		t.Fatal(err)
	}
	if col.Override != nil {
		t.Fatalf("Expected no override after the first declared skeleton failed, got %+v", col.Override)
	}
	if len(col.Objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(col.Objects))
	}
	if col.Objects[0].Skeleton != nil {
		t.Errorf("Expected a.odr to stay unrigged")
	}
	if s := col.Objects[1].Skeleton; s == nil || filepath.Base(s.Path) != "good.skel" {
		t.Errorf("Expected b.odr to keep its own skeleton, got %+v", s)
	}
}

func TestApplyODROwnSkeleton(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "own.skel"), sampleSkel)
	writeSkinnedMesh(t, filepath.Join(dir, "m.mesh"), 0)
	path := writeFile(t, filepath.Join(dir, "obj.odr"), odrText("own.skel", "m.mesh"))

	im := NewImporter(nil)
	override := &ResolvedSkeleton{Path: filepath.Join(dir, "other.skel"), Skeleton: NewSkeleton()}
	obj, err := im.ImportODR(path, override)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Skeleton == override || obj.Skeleton.Path != filepath.Join(dir, "own.skel") {
		t.Errorf("Expected the document's own skeleton, got %+v", obj.Skeleton)
	}
	if obj.Meshes[0].LOD != LOD_HIGH || obj.Meshes[0].Groups[0] != "ROOT_ped" {
		t.Errorf("Expected high lod rigged to ROOT_ped, got %v %v", obj.Meshes[0].LOD, obj.Meshes[0].Groups)
	}
}

func TestApplyODRMissingMesh(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "obj.odr"), odrText("", "gone.mesh"))
	obj, err := NewImporter(nil).ImportODR(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(obj.Meshes) != 0 || len(obj.Failures) != 1 {
		t.Fatalf("Expected one failure and no meshes, got %d %d", len(obj.Meshes), len(obj.Failures))
	}
	var ref *ReferenceError
	if !errors.As(obj.Failures[0], &ref) || ref.Kind != "mesh" {
		t.Errorf("Expected mesh ReferenceError, got %v", obj.Failures[0])
	}
	if !errors.Is(obj.Failures[0], os.ErrNotExist) {
		t.Errorf("Expected the cause to be kept, got %v", obj.Failures[0])
	}
}

func TestRigOutOfRange(t *testing.T) {
	skel, err := ParseSkeleton(strings.NewReader(sampleSkel), nil)
	if err != nil {
		t.Fatal(err)
	}
	c := triangleChunk()
	c.Vertices[0].BoneIndices = [INFLUENCES]int{7, 1, 1, 1}
	c.Vertices[0].Weights = [INFLUENCES]float32{1, 0, 0, 0}
	groups := Rig(&Mesh{Chunks: []*GeometryChunk{c}}, skel, nil)
	if groups[7] != "7" {
		t.Errorf("Expected numeric name for unknown bone, got %q", groups[7])
	}
	if _, ok := groups[1]; ok {
		t.Errorf("Expected zero-weight pad index to be ignored")
	}
}

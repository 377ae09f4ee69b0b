package openformats

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flywave/go3d/vec3"
)

const sampleSkel = `Version 107 11
{
	NumBones 3
	Bone ROOT_ped 0
	{
		Index 0
		LocalOffset 0 1 2
		RotationQuaternion 0 0 0 1
		Scale 1 1 1
		Children 2
		{
			Bone Spine 11
			{
				Index 1
				LocalOffset 0 0 1
				RotationQuaternion 0 0 1 0
				Scale 1 1 1
				Children 0
				{
				}
			}
			Bone Head 22
			{
				Index 2
				LocalOffset 1 0 0
				RotationQuaternion 0 0 1 0
				Scale 2 2 2
				Children 0
			}
		}
	}
}
`

func TestParseSkeleton(t *testing.T) {
	skel, err := ParseSkeleton(strings.NewReader(sampleSkel), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := skel.Names()
	want := []string{"ROOT_ped", "Spine", "Head"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d bones, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected bone %d %s, got %s", i, want[i], names[i])
		}
	}
	head := skel.Bone("Head")
	if head.Parent != "ROOT_ped" || head.ID != "22" || head.Index != 2 {
		t.Errorf("Expected Head under ROOT_ped with id 22, got %+v", head)
	}
	if head.Scale != (vec3.T{2, 2, 2}) {
		t.Errorf("Expected scale 2, got %v", head.Scale)
	}
	if roots := skel.Roots(); len(roots) != 1 || roots[0].Name != "ROOT_ped" {
		t.Errorf("Expected one root, got %v", roots)
	}
	if skel.DeclaredBones != 3 {
		t.Errorf("Expected NumBones 3, got %d", skel.DeclaredBones)
	}
}

func TestParseSkeletonChildCount(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
	}{
		{"fewer children than declared", "Children 2", "Children 3"},
		{"more children than declared", "Children 2", "Children 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Replace(sampleSkel, tt.from, tt.to, 1)
			skel, err := ParseSkeleton(strings.NewReader(text), nil)
			if !errors.Is(err, ErrStructure) {
				t.Errorf("Expected ErrStructure, got %v", err)
			}
			if skel != nil {
				t.Errorf("Expected no partial skeleton")
			}
		})
	}
}

func TestParseSkeletonChildrenWithoutBraces(t *testing.T) {
	text := `Version 107 11
{
	Bone Root
	{
		Children 1
		Bone Leaf
		{
			Children 0
		}
	}
}
`
	skel, err := ParseSkeleton(strings.NewReader(text), nil)
	if err != nil {
		t.Fatal(err)
	}
	if skel.Len() != 2 || skel.Bone("Leaf").Parent != "Root" {
		t.Errorf("Expected Leaf under Root, got %v", skel.Names())
	}
}

func TestParseSkeletonErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"no version", "{\n}\n", ErrHeaderMismatch},
		{"no bones", "Version 107 11\n{\n}\n", ErrSectionNotFound},
		{"duplicate", strings.Replace(sampleSkel, "Bone Head", "Bone Spine", 1), ErrStructure},
		{"truncated", sampleSkel[:strings.Index(sampleSkel, "Bone Head")], ErrStructure},
		{"bad float", strings.Replace(sampleSkel, "LocalOffset 1 0 0", "LocalOffset 1 x 0", 1), ErrStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skel, err := ParseSkeleton(strings.NewReader(tt.text), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if skel != nil {
				t.Errorf("Expected no skeleton on failure")
			}
		})
	}
}

func TestParseSkeletonNumBonesMismatch(t *testing.T) {
	var logBuf bytes.Buffer
	text := strings.Replace(sampleSkel, "NumBones 3", "NumBones 5", 1)
	skel, err := ParseSkeleton(strings.NewReader(text), &ReadOptions{Log: NewLogger(&logBuf)})
	if err != nil {
		t.Fatal(err)
	}
	if skel.Len() != 3 {
		t.Errorf("Expected 3 parsed bones, got %d", skel.Len())
	}
	if !strings.Contains(logBuf.String(), "NumBones") {
		t.Errorf("Expected mismatch to be logged")
	}
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestBonePoseRemap(t *testing.T) {
	skel, err := ParseSkeleton(strings.NewReader(sampleSkel), nil)
	if err != nil {
		t.Fatal(err)
	}
	root := skel.Bone("ROOT_ped").Pose()
	if root.Location[0] != 0 || root.Location[1] != -1 || root.Location[2] != 2 {
		t.Errorf("Expected location (0,-1,2), got %v", root.Location)
	}
	if !approx(root.Rotation.W, 0) || !approx(root.Rotation.V[0], -1) || !approx(root.Rotation.V[1], 0) || !approx(root.Rotation.V[2], 0) {
		t.Errorf("Expected remapped rotation (0,-1,0,0), got %v", root.Rotation)
	}
	if root.Scale[1] != -1 {
		t.Errorf("Expected root scale mirrored on Y, got %v", root.Scale)
	}

	spine := skel.Bone("Spine").Pose()
	if !approx(spine.Rotation.W, 1) || !approx(spine.Rotation.V.Len(), 0) {
		t.Errorf("Expected identity rotation, got %v", spine.Rotation)
	}
	if spine.Scale[1] != 1 {
		t.Errorf("Expected non-root scale unchanged, got %v", spine.Scale)
	}

	zero := NewBone("Zero")
	zero.Rotation = [4]float32{}
	if q := zero.Pose().Rotation; q.W != 1 {
		t.Errorf("Expected zero quaternion to fall back to identity, got %v", q)
	}
}

func TestHeadsAndTails(t *testing.T) {
	skel := NewSkeleton()
	root := NewBone("Base")
	root.Rotation = [4]float32{0, 0, 1, 0}
	child := NewBone("Child")
	child.Rotation = [4]float32{0, 0, 1, 0}
	child.Offset = vec3.T{0, 1, 0}
	if err := skel.AddBone(root, ""); err != nil {
		t.Fatal(err)
	}
	if err := skel.AddBone(child, "Base"); err != nil {
		t.Fatal(err)
	}
	if err := skel.AddBone(NewBone("Orphan"), "Missing"); !errors.Is(err, ErrStructure) {
		t.Errorf("Expected ErrStructure for unknown parent, got %v", err)
	}

	heads, tails, err := skel.HeadsAndTails()
	if err != nil {
		t.Fatal(err)
	}
	if !approx(heads[1][1], -1) {
		t.Errorf("Expected child head at y=-1, got %v", heads[1])
	}
	if tails[0] != heads[1] {
		t.Errorf("Expected root tail at child head, got %v", tails[0])
	}
	if !approx(tails[1][1], -1.02) {
		t.Errorf("Expected stub tail for leaf, got %v", tails[1])
	}
}

func TestWorldTransformsCycle(t *testing.T) {
	a := &Bone{Name: "A", Parent: "B", Index: 0, Rotation: [4]float32{0, 0, 1, 0}, Scale: vec3.T{1, 1, 1}}
	b := &Bone{Name: "B", Parent: "A", Index: 1, Rotation: [4]float32{0, 0, 1, 0}, Scale: vec3.T{1, 1, 1}}
	skel := &Skeleton{Bones: []*Bone{a, b}}
	if _, err := skel.WorldTransforms(); !errors.Is(err, ErrStructure) {
		t.Errorf("Expected ErrStructure for a cycle, got %v", err)
	}
}

func TestSkeletonWriteRoundTrip(t *testing.T) {
	skel, err := ParseSkeleton(strings.NewReader(sampleSkel), nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ped"+SKEL_EXT)
	if err := SkeletonWriteTo(path, skel); err != nil {
		t.Fatal(err)
	}
	again, err := SkeletonReadFrom(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Path != path {
		t.Errorf("Expected path %s, got %s", path, again.Path)
	}
	if again.Len() != skel.Len() || again.DeclaredBones != skel.Len() {
		t.Fatalf("Expected %d bones, got %d", skel.Len(), again.Len())
	}
	for i, b := range skel.Bones {
		o := again.Bones[i]
		if o.Name != b.Name || o.ID != b.ID || o.Parent != b.Parent || o.Offset != b.Offset || o.Rotation != b.Rotation || o.Scale != b.Scale {
			t.Errorf("Expected bone %+v, got %+v", b, o)
		}
	}

	if err := WriteSkeleton(&bytes.Buffer{}, NewSkeleton()); !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("Expected ErrSectionNotFound for empty skeleton, got %v", err)
	}
}

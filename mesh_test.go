package openformats

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

const lowVertex = "%s / 0 0 0 0 / 1 1 1 1 / 0 0 1 / 255 255 255 255 / 0 0 0 0 / 0 0"

func meshText(geometries ...string) string {
	var sb strings.Builder
	sb.WriteString("Version 165 32\n{\n\tLocked False\n\tSkinned False\n\tBoneCount 0\n\tMask 255\n\tGeometries\n\t{\n")
	for _, g := range geometries {
		sb.WriteString(g)
	}
	sb.WriteString("\t}\n}\n")
	return sb.String()
}

func geometryText(shader int, indices []string, vertices []string) string {
	var sb strings.Builder
	sb.WriteString("\t\tGeometry\n\t\t{\n")
	sb.WriteString("\t\t\tShaderIndex " + itoa(shader) + "\n")
	sb.WriteString("\t\t\tFlags -\n\t\t\tVertexDeclaration SD7D22350\n")
	count := 0
	for _, row := range indices {
		count += len(strings.Fields(row))
	}
	sb.WriteString("\t\t\tIndices " + itoa(count) + "\n\t\t\t{\n")
	for _, row := range indices {
		sb.WriteString("\t\t\t\t" + row + "\n")
	}
	sb.WriteString("\t\t\t}\n")
	sb.WriteString("\t\t\tVertices " + itoa(len(vertices)) + "\n\t\t\t{\n")
	for _, v := range vertices {
		sb.WriteString("\t\t\t\t" + strings.Replace(lowVertex, "%s", v, 1) + "\n")
	}
	sb.WriteString("\t\t\t}\n\t\t}\n")
	return sb.String()
}

func itoa(n int) string {
	return formatInts(n)
}

var triangleVertices = []string{"0 0 0", "1 0 0", "0 1 0"}

func TestParseMeshIndicesAcrossRows(t *testing.T) {
	row := "0 1 2 0 1 2 0 1 2 0 1 2 0 1 2"
	text := meshText(geometryText(0, []string{row, row}, triangleVertices))
	mesh, err := ParseMesh(strings.NewReader(text), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(mesh.Chunks))
	}
	if n := len(mesh.Chunks[0].Indices); n != 30 {
		t.Errorf("Expected 30 indices, got %d", n)
	}
	if mesh.Mask != 255 || mesh.Skinned {
		t.Errorf("Expected header values, got mask %d skinned %v", mesh.Mask, mesh.Skinned)
	}
}

func TestParseMeshHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"no version", "{\n}\n", ErrHeaderMismatch},
		{"wrong version", strings.Replace(meshText(), "165 32", "164 32", 1), ErrHeaderMismatch},
		{"no geometries", "Version 165 32\n{\n\tLocked False\n}\n", ErrSectionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMesh(strings.NewReader(tt.text), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseMeshDropsBadChunk(t *testing.T) {
	bad := geometryText(0, []string{"0 1 2"}, triangleVertices)
	bad = strings.Replace(bad, "Indices 3", "Indices 4", 1)
	good := geometryText(1, []string{"0 1 2"}, triangleVertices)

	var logBuf bytes.Buffer
	mesh, err := ParseMesh(strings.NewReader(meshText(bad, good)), &ReadOptions{Log: NewLogger(&logBuf)})
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Chunks) != 1 || mesh.Chunks[0].ShaderIndex != 1 {
		t.Fatalf("Expected only the second chunk, got %d chunks", len(mesh.Chunks))
	}
	if len(mesh.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(mesh.Failures))
	}
	var ce *ChunkError
	if !errors.As(mesh.Failures[0], &ce) || ce.Index != 0 {
		t.Errorf("Expected ChunkError for geometry 0, got %v", mesh.Failures[0])
	}
	if !errors.Is(mesh.Failures[0], ErrStructure) {
		t.Errorf("Expected ErrStructure, got %v", mesh.Failures[0])
	}
	if !strings.Contains(logBuf.String(), "geometry 0 dropped") {
		t.Errorf("Expected the drop to be logged, got %q", logBuf.String())
	}
}

func TestParseMeshBadVertexCount(t *testing.T) {
	g := strings.Replace(geometryText(0, []string{"0 1 2"}, triangleVertices), "Vertices 3", "Vertices 2", 1)
	mesh, err := ParseMesh(strings.NewReader(meshText(g)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Chunks) != 0 || len(mesh.Failures) != 1 {
		t.Errorf("Expected the chunk to be dropped, got %d chunks %d failures", len(mesh.Chunks), len(mesh.Failures))
	}
}

func scenarioChunk() *GeometryChunk {
	c := triangleChunk()
	c.Vertices[0].UV = vec2.T{0, 0}
	c.Vertices[1].UV = vec2.T{1, 0}
	c.Vertices[2].UV = vec2.T{0, 1}
	return c
}

func trimmedLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}

func indexOf(lines []string, s string) int {
	for i, l := range lines {
		if l == s {
			return i
		}
	}
	return -1
}

func TestWriteMeshScenario(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMesh(&buf, []*GeometryChunk{scenarioChunk()}, WriteOptions{Declaration: HighOpaque, StartShaderIndex: 5})
	if err != nil {
		t.Fatal(err)
	}
	lines := trimmedLines(buf.String())

	if lines[0] != "Version 165 32" {
		t.Errorf("Expected version header, got %q", lines[0])
	}
	for _, want := range []string{
		"ShaderIndex 5",
		"VertexDeclaration SBED48839",
		"Indices 3",
		"0 1 2",
		"Vertices 3",
		"Min 0.00000000 0.00000000 0.00000000",
		"Max 1.00000000 1.00000000 0.00000000",
		"Skinned False",
		"BoneCount 0",
		"Mask 255",
	} {
		if indexOf(lines, want) < 0 {
			t.Errorf("Expected line %q in output", want)
		}
	}

	at := indexOf(lines, "Vertices 3")
	wantV := []string{"0.00000000", "0.00000000", "-1.00000000"}
	for i := 0; i < 3; i++ {
		groups := strings.Split(lines[at+2+i], " / ")
		if len(groups) != 9 {
			t.Fatalf("Expected 9 vertex groups, got %d", len(groups))
		}
		uv := strings.Fields(groups[6])
		if uv[1] != wantV[i] {
			t.Errorf("Expected vertex %d v %s, got %s", i, wantV[i], uv[1])
		}
		if strings.TrimSpace(groups[1]) != "0 0 0 0" {
			t.Errorf("Expected zero weights, got %q", groups[1])
		}
	}
}

func TestWriteMeshShaderOffsetPerChunk(t *testing.T) {
	var buf bytes.Buffer
	chunks := []*GeometryChunk{triangleChunk(), triangleChunk(), triangleChunk()}
	chunks[0].ShaderIndex = 3
	chunks[1].ShaderIndex = 3
	chunks[2].ShaderIndex = 0
	if err := WriteMesh(&buf, chunks, WriteOptions{Declaration: Low, StartShaderIndex: 2}); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, l := range trimmedLines(buf.String()) {
		if strings.HasPrefix(l, "ShaderIndex ") {
			got = append(got, l)
		}
	}
	want := []string{"ShaderIndex 5", "ShaderIndex 5", "ShaderIndex 2"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d ShaderIndex lines, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected chunk %d %q, got %q", i, want[i], got[i])
		}
	}
}

func TestMeshShaderIndexRoundTrip(t *testing.T) {
	text := meshText(
		geometryText(3, []string{"0 1 2"}, triangleVertices),
		geometryText(3, []string{"0 1 2"}, triangleVertices),
		geometryText(0, []string{"0 1 2"}, triangleVertices),
	)
	mesh, err := ParseMesh(strings.NewReader(text), nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteMesh(&buf, mesh.Chunks, WriteOptions{Declaration: Low}); err != nil {
		t.Fatal(err)
	}
	again, err := ParseMesh(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{3, 3, 0}
	if len(again.Chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(again.Chunks))
	}
	for i := range want {
		if again.Chunks[i].ShaderIndex != want[i] {
			t.Errorf("Expected chunk %d ShaderIndex %d, got %d", i, want[i], again.Chunks[i].ShaderIndex)
		}
	}
}

func TestWriteMeshIndexRows(t *testing.T) {
	c := triangleChunk()
	for i := 0; i < 9; i++ {
		c.Indices = append(c.Indices, 0, 1, 2)
	}
	var buf bytes.Buffer
	if err := WriteMesh(&buf, []*GeometryChunk{c}, WriteOptions{Declaration: Low}); err != nil {
		t.Fatal(err)
	}
	lines := trimmedLines(buf.String())
	at := indexOf(lines, "Indices 30")
	if at < 0 {
		t.Fatalf("Expected Indices 30")
	}
	if n := len(strings.Fields(lines[at+2])); n != INDICES_PER_LINE {
		t.Errorf("Expected %d per row, got %d", INDICES_PER_LINE, n)
	}
	if n := len(strings.Fields(lines[at+3])); n != INDICES_PER_LINE {
		t.Errorf("Expected %d per row, got %d", INDICES_PER_LINE, n)
	}
	if lines[at+4] != "}" {
		t.Errorf("Expected two rows, got %q", lines[at+4])
	}

	mesh, err := ParseMesh(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Chunks[0].Indices) != 30 {
		t.Errorf("Expected 30 indices read back, got %d", len(mesh.Chunks[0].Indices))
	}
}

func TestMeshUVRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := &GeometryChunk{}
	for i := 0; i < 64; i++ {
		v := NewVertex(vec3.T{float32(i), 0, 0})
		v.UV = vec2.T{rng.Float32()*4 - 2, rng.Float32()*4 - 2}
		c.Vertices = append(c.Vertices, v)
	}
	for _, decl := range []VertexDeclaration{HighOpaque, HighAlpha, Low} {
		t.Run(decl.String(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteMesh(&buf, []*GeometryChunk{c}, WriteOptions{Declaration: decl}); err != nil {
				t.Fatal(err)
			}
			mesh, err := ParseMesh(&buf, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := mesh.Chunks[0]
			for i := range c.Vertices {
				for a := 0; a < 2; a++ {
					if d := math.Abs(float64(got.Vertices[i].UV[a] - c.Vertices[i].UV[a])); d > 1e-6 {
						t.Fatalf("Expected uv %v, got %v", c.Vertices[i].UV, got.Vertices[i].UV)
					}
				}
			}
			if got.HasUV2 != decl.Has(FIELD_UV2) || got.HasTangent != decl.Has(FIELD_TANGENT) {
				t.Errorf("Expected detected layout to match %s", decl)
			}
		})
	}
}

func TestMeshSkinnedRoundTrip(t *testing.T) {
	c := triangleChunk()
	c.Vertices[0].BoneIndices = [INFLUENCES]int{2, 5, 1, 1}
	c.Vertices[0].Weights = [INFLUENCES]float32{0.5, 0.5, 0, 0}
	c.Vertices[1].Color = [4]byte{10, 20, 30, 40}
	c.Vertices[2].Tangent = [4]float32{1, 0, 0, -1}

	var buf bytes.Buffer
	if err := WriteMesh(&buf, []*GeometryChunk{c}, WriteOptions{Declaration: HighOpaque}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "BoneCount 6") || !strings.Contains(buf.String(), "Skinned True") {
		t.Errorf("Expected derived bone count and skinned flag")
	}
	mesh, err := ParseMesh(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mesh.Skinned || mesh.BoneCount != 6 {
		t.Errorf("Expected skinned mesh with 6 bones, got %v %d", mesh.Skinned, mesh.BoneCount)
	}
	v := mesh.Chunks[0].Vertices
	if v[0].BoneIndices != c.Vertices[0].BoneIndices {
		t.Errorf("Expected bone indices %v, got %v", c.Vertices[0].BoneIndices, v[0].BoneIndices)
	}
	if s := weightSum(v[0].Weights); s != WEIGHT_TOTAL {
		t.Errorf("Expected weights to read back summing to %d, got %d", WEIGHT_TOTAL, s)
	}
	if v[1].Color != c.Vertices[1].Color {
		t.Errorf("Expected color %v, got %v", c.Vertices[1].Color, v[1].Color)
	}
	if v[2].Tangent != c.Vertices[2].Tangent {
		t.Errorf("Expected tangent %v, got %v", c.Vertices[2].Tangent, v[2].Tangent)
	}
}

func TestWriteMeshSecondUV(t *testing.T) {
	c := triangleChunk()
	c.Vertices[0].UV = vec2.T{0.25, 0.5}
	c.Vertices[0].UV2 = vec2.T{0.75, 0.125}

	tests := []struct {
		policy SecondUVPolicy
		want   vec2.T
	}{
		{SecondUVDuplicate, vec2.T{0.25, 0.5}},
		{SecondUVFromChunk, vec2.T{0.75, 0.125}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteMesh(&buf, []*GeometryChunk{c}, WriteOptions{Declaration: HighOpaque, SecondUV: tt.policy}); err != nil {
				t.Fatal(err)
			}
			mesh, err := ParseMesh(&buf, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got := mesh.Chunks[0].Vertices[0].UV2; got != tt.want {
				t.Errorf("Expected second uv %v, got %v", tt.want, got)
			}
		})
	}
	if p, err := ParseSecondUVPolicy("chunk"); err != nil || p != SecondUVFromChunk {
		t.Errorf("Expected chunk policy, got %v %v", p, err)
	}
}

func TestWriteMeshRejectsInvalid(t *testing.T) {
	c := triangleChunk()
	c.Indices = []int{0, 1, 7}
	if err := WriteMesh(&bytes.Buffer{}, []*GeometryChunk{c}, WriteOptions{}); !errors.Is(err, ErrStructure) {
		t.Errorf("Expected ErrStructure, got %v", err)
	}
	if err := WriteMesh(&bytes.Buffer{}, nil, WriteOptions{Declaration: VertexDeclaration(9)}); err == nil {
		t.Errorf("Expected error for unknown declaration")
	}
}

func TestMeshFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prop"+MESH_EXT)
	if err := MeshWriteTo(path, []*GeometryChunk{scenarioChunk()}, WriteOptions{Declaration: HighAlpha}); err != nil {
		t.Fatal(err)
	}
	mesh, err := MeshReadFrom(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mesh.Chunks[0].TriangleCount() != 1 || mesh.Chunks[0].VertexCount() != 3 {
		t.Errorf("Expected one triangle, got %d/%d", mesh.Chunks[0].TriangleCount(), mesh.Chunks[0].VertexCount())
	}
	if _, err := MeshReadFrom(filepath.Join(t.TempDir(), "missing.mesh"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

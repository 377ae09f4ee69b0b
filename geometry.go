package openformats

import (
	"sort"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/pkg/errors"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

var (
	DefaultColor  = [4]byte{255, 255, 255, 255}
	DefaultColor2 = [4]byte{0, 0, 0, 0}
)

// Vertex is one entry of a chunk's vertex buffer. UVs are kept in the host
// convention; the codec flips V when reading and writing.
type Vertex struct {
	Position    vec3.T
	Normal      vec3.T
	UV          vec2.T
	UV2         vec2.T
	Color       [4]byte
	Color2      [4]byte
	Tangent     [4]float32
	BoneIndices [INFLUENCES]int
	Weights     [INFLUENCES]float32
}

func NewVertex(pos vec3.T) Vertex {
	return Vertex{
		Position:    pos,
		Color:       DefaultColor,
		Color2:      DefaultColor2,
		BoneIndices: [INFLUENCES]int{INFLUENCE_PAD_INDEX, INFLUENCE_PAD_INDEX, INFLUENCE_PAD_INDEX, INFLUENCE_PAD_INDEX},
	}
}

func (v *Vertex) Skinned() bool {
	for _, w := range v.Weights {
		if w > 0 {
			return true
		}
	}
	return false
}

// GeometryChunk is one Geometry block of a .mesh file.
type GeometryChunk struct {
	ShaderIndex int      `json:"shaderIndex"`
	Declaration string   `json:"declaration,omitempty"`
	HasUV2      bool     `json:"hasUv2,omitempty"`
	HasTangent  bool     `json:"hasTangent,omitempty"`
	Vertices    []Vertex `json:"vertices"`
	Indices     []int    `json:"indices"`
}

func (c *GeometryChunk) VertexCount() int {
	return len(c.Vertices)
}

func (c *GeometryChunk) TriangleCount() int {
	return len(c.Indices) / 3
}

func (c *GeometryChunk) IsEmpty() bool {
	return len(c.Vertices) == 0
}

func (c *GeometryChunk) Skinned() bool {
	for i := range c.Vertices {
		if c.Vertices[i].Skinned() {
			return true
		}
	}
	return false
}

func (c *GeometryChunk) Validate() error {
	if len(c.Indices)%3 != 0 {
		return errors.Wrapf(ErrStructure, "index count %d is not a multiple of 3", len(c.Indices))
	}
	for i, idx := range c.Indices {
		if idx < 0 || idx >= len(c.Vertices) {
			return errors.Wrapf(ErrStructure, "index %d at %d out of range [0,%d)", idx, i, len(c.Vertices))
		}
	}
	return nil
}

// Bounds is the axis-aligned box of the chunk's positions. An empty chunk has a zero box.
func (c *GeometryChunk) Bounds() dvec3.Box {
	if len(c.Vertices) == 0 {
		return dvec3.Box{}
	}
	p := c.Vertices[0].Position
	bx := dvec3.Box{
		Min: dvec3.T{float64(p[0]), float64(p[1]), float64(p[2])},
		Max: dvec3.T{float64(p[0]), float64(p[1]), float64(p[2])},
	}
	for i := 1; i < len(c.Vertices); i++ {
		p := c.Vertices[i].Position
		for a := 0; a < 3; a++ {
			v := float64(p[a])
			if v < bx.Min[a] {
				bx.Min[a] = v
			}
			if v > bx.Max[a] {
				bx.Max[a] = v
			}
		}
	}
	return bx
}

// MaxBoneIndex returns the highest bone index referenced with a positive weight, or -1.
func (c *GeometryChunk) MaxBoneIndex() int {
	max := -1
	for i := range c.Vertices {
		v := &c.Vertices[i]
		for j := 0; j < INFLUENCES; j++ {
			if v.Weights[j] > 0 && v.BoneIndices[j] > max {
				max = v.BoneIndices[j]
			}
		}
	}
	return max
}

func (c *GeometryChunk) ReComputeNormal() {
	normals := make([]vec3.T, len(c.Vertices))
	for f := 0; f+2 < len(c.Indices); f += 3 {
		pt1 := c.Vertices[c.Indices[f]].Position
		pt2 := c.Vertices[c.Indices[f+1]].Position
		pt3 := c.Vertices[c.Indices[f+2]].Position

		sub1 := vec3.Sub(&pt3, &pt2)
		sub2 := vec3.Sub(&pt1, &pt2)

		cro := vec3.Cross(&sub1, &sub2)
		l := cro.Length()
		if l == 0 {
			continue
		}
		weightedNormal := cro.Scale(1 / l)

		normals[c.Indices[f]].Add(weightedNormal)
		normals[c.Indices[f+1]].Add(weightedNormal)
		normals[c.Indices[f+2]].Add(weightedNormal)
	}

	for i := range normals {
		if !normals[i].IsZero() {
			normals[i].Normalize()
		}
		c.Vertices[i].Normal = normals[i]
	}
}

// ComputeBounds joins the boxes of every non-empty chunk.
func ComputeBounds(chunks []*GeometryChunk) dvec3.Box {
	bbox := dvec3.MinBox
	joined := false
	for _, c := range chunks {
		if c == nil || c.IsEmpty() {
			continue
		}
		bx := c.Bounds()
		bbox.Join(&bx)
		joined = true
	}
	if !joined {
		return dvec3.Box{}
	}
	return bbox
}

type WeldPolicy int

const (
	WeldNone WeldPolicy = iota
	// WeldExact merges vertices whose attributes are all equal.
	WeldExact
	// WeldPosition merges vertices sharing a position; the first occurrence's attributes win.
	WeldPosition
)

func (p WeldPolicy) String() string {
	switch p {
	case WeldExact:
		return "exact"
	case WeldPosition:
		return "position"
	}
	return "none"
}

func ParseWeldPolicy(s string) (WeldPolicy, error) {
	switch s {
	case "", "none":
		return WeldNone, nil
	case "exact":
		return WeldExact, nil
	case "position":
		return WeldPosition, nil
	}
	return WeldNone, errors.Errorf("unknown weld policy %q", s)
}

// Weld deduplicates vertices per policy and drops triangles that become
// degenerate or duplicated. It returns the number of dropped triangles.
func Weld(c *GeometryChunk, policy WeldPolicy) int {
	remap := make([]int, len(c.Vertices))
	var verts []Vertex
	switch policy {
	case WeldExact:
		seen := make(map[Vertex]int)
		for i, v := range c.Vertices {
			if j, ok := seen[v]; ok {
				remap[i] = j
				continue
			}
			seen[v] = len(verts)
			remap[i] = len(verts)
			verts = append(verts, v)
		}
	case WeldPosition:
		seen := make(map[vec3.T]int)
		for i, v := range c.Vertices {
			if j, ok := seen[v.Position]; ok {
				remap[i] = j
				continue
			}
			seen[v.Position] = len(verts)
			remap[i] = len(verts)
			verts = append(verts, v)
		}
	default:
		verts = c.Vertices
		for i := range remap {
			remap[i] = i
		}
	}

	indices := make([]int, 0, len(c.Indices))
	faces := make(map[[3]int]struct{})
	dropped := 0
	for f := 0; f+2 < len(c.Indices); f += 3 {
		a, b, d := remap[c.Indices[f]], remap[c.Indices[f+1]], remap[c.Indices[f+2]]
		if a == b || b == d || a == d {
			dropped++
			continue
		}
		key := faceKey(a, b, d)
		if _, ok := faces[key]; ok {
			dropped++
			continue
		}
		faces[key] = struct{}{}
		indices = append(indices, a, b, d)
	}
	c.Vertices = verts
	c.Indices = indices
	return dropped
}

func faceKey(a, b, c int) [3]int {
	k := [3]int{a, b, c}
	sort.Ints(k[:])
	return k
}

// MergeByShader joins chunks that share a shader index, keeping first-seen order.
func MergeByShader(chunks []*GeometryChunk) []*GeometryChunk {
	var out []*GeometryChunk
	byShader := make(map[int]*GeometryChunk)
	for _, c := range chunks {
		dst, ok := byShader[c.ShaderIndex]
		if !ok {
			cp := &GeometryChunk{
				ShaderIndex: c.ShaderIndex,
				Declaration: c.Declaration,
				HasUV2:      c.HasUV2,
				HasTangent:  c.HasTangent,
				Vertices:    append([]Vertex(nil), c.Vertices...),
				Indices:     append([]int(nil), c.Indices...),
			}
			byShader[c.ShaderIndex] = cp
			out = append(out, cp)
			continue
		}
		base := len(dst.Vertices)
		dst.Vertices = append(dst.Vertices, c.Vertices...)
		for _, idx := range c.Indices {
			dst.Indices = append(dst.Indices, idx+base)
		}
		dst.HasUV2 = dst.HasUV2 || c.HasUV2
		dst.HasTangent = dst.HasTangent || c.HasTangent
	}
	return out
}

// PadInfluences fits an arbitrary influence list into four slots. The strongest
// four are kept and missing slots get index 1 with weight 0.
func PadInfluences(indices []int, weights []float32) ([INFLUENCES]int, [INFLUENCES]float32) {
	type influence struct {
		idx int
		w   float32
	}
	infl := make([]influence, 0, len(indices))
	for i := range indices {
		var w float32
		if i < len(weights) {
			w = weights[i]
		}
		infl = append(infl, influence{indices[i], w})
	}
	if len(infl) > INFLUENCES {
		sort.SliceStable(infl, func(i, j int) bool { return infl[i].w > infl[j].w })
		infl = infl[:INFLUENCES]
	}
	var bi [INFLUENCES]int
	var bw [INFLUENCES]float32
	for i := 0; i < INFLUENCES; i++ {
		if i < len(infl) {
			bi[i], bw[i] = infl[i].idx, infl[i].w
		} else {
			bi[i], bw[i] = INFLUENCE_PAD_INDEX, 0
		}
	}
	return bi, bw
}

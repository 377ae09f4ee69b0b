package openformats

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

// GltfFileToChunks opens a .gltf or .glb file and gathers its primitives.
func GltfFileToChunks(path string, log *Logger) ([]*GeometryChunk, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open gltf %s", path)
	}
	return GltfToChunks(doc, log)
}

// GltfToChunks turns every triangle primitive of doc into a chunk whose shader
// index is the primitive's material. Vertices stay in mesh space.
func GltfToChunks(doc *gltf.Document, log *Logger) ([]*GeometryChunk, error) {
	var chunks []*GeometryChunk
	for mi, mesh := range doc.Meshes {
		for pi, p := range mesh.Primitives {
			if p.Mode != gltf.PrimitiveTriangles {
				log.Printf("gltf: mesh %d primitive %d is not a triangle list, skipped", mi, pi)
				continue
			}
			c, err := primitiveToChunk(doc, p)
			if err != nil {
				return nil, errors.Wrapf(err, "mesh %d primitive %d", mi, pi)
			}
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func primitiveToChunk(doc *gltf.Document, p *gltf.Primitive) (*GeometryChunk, error) {
	posIdx, ok := p.Attributes["POSITION"]
	if !ok {
		return nil, errors.New("primitive has no POSITION")
	}
	pos, err := readAccessor(doc, posIdx)
	if err != nil {
		return nil, err
	}
	c := &GeometryChunk{Vertices: make([]Vertex, len(pos))}
	if p.Material != nil {
		c.ShaderIndex = int(*p.Material)
	}
	for i := range pos {
		c.Vertices[i] = NewVertex(vec3.T{float32(pos[i][0]), float32(pos[i][1]), float32(pos[i][2])})
	}

	normals, hasNormals, err := optionalAccessor(doc, p, "NORMAL", len(pos))
	if err != nil {
		return nil, err
	}
	if hasNormals {
		for i, n := range normals {
			c.Vertices[i].Normal = vec3.T{float32(n[0]), float32(n[1]), float32(n[2])}
		}
	}
	if data, ok, err := optionalAccessor(doc, p, "TEXCOORD_0", len(pos)); err != nil {
		return nil, err
	} else if ok {
		for i, uv := range data {
			c.Vertices[i].UV = vec2.T{float32(uv[0]), float32(1 - uv[1])}
		}
	}
	if data, ok, err := optionalAccessor(doc, p, "TEXCOORD_1", len(pos)); err != nil {
		return nil, err
	} else if ok {
		c.HasUV2 = true
		for i, uv := range data {
			c.Vertices[i].UV2 = vec2.T{float32(uv[0]), float32(1 - uv[1])}
		}
	}
	if data, ok, err := optionalAccessor(doc, p, "COLOR_0", len(pos)); err != nil {
		return nil, err
	} else if ok {
		for i, col := range data {
			rgba := [4]byte{255, 255, 255, 255}
			for j := 0; j < len(col) && j < 4; j++ {
				rgba[j] = clampByte(int(math.Round(col[j] * 255)))
			}
			c.Vertices[i].Color = rgba
		}
	}
	if data, ok, err := optionalAccessor(doc, p, "TANGENT", len(pos)); err != nil {
		return nil, err
	} else if ok {
		c.HasTangent = true
		for i, t := range data {
			for j := 0; j < len(t) && j < 4; j++ {
				c.Vertices[i].Tangent[j] = float32(t[j])
			}
		}
	}
	joints, hasJoints, err := optionalAccessor(doc, p, "JOINTS_0", len(pos))
	if err != nil {
		return nil, err
	}
	weights, hasWeights, err := optionalAccessor(doc, p, "WEIGHTS_0", len(pos))
	if err != nil {
		return nil, err
	}
	if hasJoints && hasWeights {
		for i := range c.Vertices {
			idx := make([]int, 0, INFLUENCES)
			w := make([]float32, 0, INFLUENCES)
			for j := 0; j < len(joints[i]) && j < len(weights[i]); j++ {
				if weights[i][j] <= 0 {
					continue
				}
				idx = append(idx, int(joints[i][j]))
				w = append(w, float32(weights[i][j]))
			}
			c.Vertices[i].BoneIndices, c.Vertices[i].Weights = PadInfluences(idx, w)
		}
	}

	if p.Indices != nil {
		data, err := readAccessor(doc, *p.Indices)
		if err != nil {
			return nil, err
		}
		c.Indices = make([]int, len(data))
		for i := range data {
			c.Indices[i] = int(data[i][0])
		}
	} else {
		c.Indices = make([]int, len(pos))
		for i := range c.Indices {
			c.Indices[i] = i
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !hasNormals {
		c.ReComputeNormal()
	}
	return c, nil
}

func optionalAccessor(doc *gltf.Document, p *gltf.Primitive, name string, count int) ([][]float64, bool, error) {
	idx, ok := p.Attributes[name]
	if !ok {
		return nil, false, nil
	}
	data, err := readAccessor(doc, idx)
	if err != nil {
		return nil, false, errors.Wrap(err, name)
	}
	if len(data) != count {
		return nil, false, errors.Errorf("%s has %d elements, POSITION has %d", name, len(data), count)
	}
	return data, true, nil
}

func accessorComponents(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 0
}

func componentSize(t gltf.ComponentType) int {
	switch t {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentUint, gltf.ComponentFloat:
		return 4
	}
	return 0
}

// readAccessor decodes an accessor into float64 elements. Normalized integer
// components are mapped to [0,1] or [-1,1].
func readAccessor(doc *gltf.Document, index uint32) ([][]float64, error) {
	if int(index) >= len(doc.Accessors) {
		return nil, errors.Errorf("accessor %d out of range", index)
	}
	acc := doc.Accessors[index]
	comps := accessorComponents(acc.Type)
	size := componentSize(acc.ComponentType)
	if comps == 0 || size == 0 {
		return nil, errors.Errorf("accessor %d has unsupported layout", index)
	}
	out := make([][]float64, acc.Count)
	if acc.BufferView == nil {
		for i := range out {
			out[i] = make([]float64, comps)
		}
		return out, nil
	}
	view := doc.BufferViews[*acc.BufferView]
	data := doc.Buffers[view.Buffer].Data
	stride := int(view.ByteStride)
	if stride == 0 {
		stride = comps * size
	}
	base := int(view.ByteOffset + acc.ByteOffset)
	for i := range out {
		el := make([]float64, comps)
		off := base + i*stride
		if off+comps*size > len(data) {
			return nil, errors.Errorf("accessor %d overruns its buffer", index)
		}
		for j := 0; j < comps; j++ {
			el[j] = readComponent(data[off+j*size:], acc.ComponentType, acc.Normalized)
		}
		out[i] = el
	}
	return out, nil
}

func readComponent(b []byte, t gltf.ComponentType, normalized bool) float64 {
	switch t {
	case gltf.ComponentFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case gltf.ComponentUbyte:
		if normalized {
			return float64(b[0]) / 255
		}
		return float64(b[0])
	case gltf.ComponentByte:
		if normalized {
			return math.Max(float64(int8(b[0]))/127, -1)
		}
		return float64(int8(b[0]))
	case gltf.ComponentUshort:
		v := binary.LittleEndian.Uint16(b)
		if normalized {
			return float64(v) / 65535
		}
		return float64(v)
	case gltf.ComponentShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if normalized {
			return math.Max(float64(v)/32767, -1)
		}
		return float64(v)
	case gltf.ComponentUint:
		return float64(binary.LittleEndian.Uint32(b))
	}
	return 0
}

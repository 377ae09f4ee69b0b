package openformats

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SecondUVPolicy controls what goes into the second UV slot of declarations that carry one.
type SecondUVPolicy int

const (
	// SecondUVDuplicate repeats the first UV set.
	SecondUVDuplicate SecondUVPolicy = iota
	// SecondUVFromChunk writes the chunk's own second UV set.
	SecondUVFromChunk
)

func (p SecondUVPolicy) String() string {
	if p == SecondUVFromChunk {
		return "chunk"
	}
	return "duplicate"
}

func ParseSecondUVPolicy(s string) (SecondUVPolicy, error) {
	switch s {
	case "", "duplicate":
		return SecondUVDuplicate, nil
	case "chunk":
		return SecondUVFromChunk, nil
	}
	return SecondUVDuplicate, errors.Errorf("unknown second uv policy %q", s)
}

type WriteOptions struct {
	Declaration      VertexDeclaration
	StartShaderIndex int
	// BoneCount is written verbatim; when zero it is derived from the highest weighted bone index.
	BoneCount int
	// Skinned forces the Skinned flag; otherwise it is set when any weight is positive.
	Skinned  bool
	SecondUV SecondUVPolicy
}

func MeshWriteTo(path string, chunks []*GeometryChunk, opts WriteOptions) error {
	var c composer
	if err := composeMesh(&c, chunks, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(c.String()), 0644); err != nil {
		return errors.Wrapf(err, "write mesh %s", path)
	}
	return nil
}

// WriteMesh emits chunks as a .mesh document. The document is assembled in
// memory and written with a single call.
func WriteMesh(w io.Writer, chunks []*GeometryChunk, opts WriteOptions) error {
	var c composer
	if err := composeMesh(&c, chunks, opts); err != nil {
		return err
	}
	return c.flush(w)
}

func composeMesh(c *composer, chunks []*GeometryChunk, opts WriteOptions) error {
	if _, ok := declarationNames[opts.Declaration]; !ok {
		return errors.Errorf("unknown vertex declaration %d", opts.Declaration)
	}
	for i, ch := range chunks {
		if err := ch.Validate(); err != nil {
			return errors.Wrapf(err, "geometry %d", i)
		}
	}

	skinned := opts.Skinned
	boneCount := opts.BoneCount
	maxBone := -1
	for _, ch := range chunks {
		if ch.Skinned() {
			skinned = true
		}
		if b := ch.MaxBoneIndex(); b > maxBone {
			maxBone = b
		}
	}
	if boneCount == 0 && skinned {
		boneCount = maxBone + 1
	}

	c.line("Version", strconv.Itoa(MESH_VERSION_MAJOR), strconv.Itoa(MESH_VERSION_MINOR))
	c.open()
	c.line("Locked", formatBool(false))
	c.line("Skinned", formatBool(skinned))
	c.line("BoneCount", strconv.Itoa(boneCount))
	c.line("Mask", strconv.Itoa(MESH_MASK))

	c.open("Bounds")
	for _, ch := range chunks {
		bx := ch.Bounds()
		c.open("Aabb")
		c.line("Min", formatFloats64(bx.Min[0], bx.Min[1], bx.Min[2]))
		c.line("Max", formatFloats64(bx.Max[0], bx.Max[1], bx.Max[2]))
		c.close()
	}
	c.close()

	c.open("Geometries")
	for _, ch := range chunks {
		c.open("Geometry")
		c.line("ShaderIndex", strconv.Itoa(opts.StartShaderIndex+ch.ShaderIndex))
		c.line("Flags", "-")
		c.line("VertexDeclaration", opts.Declaration.String())

		c.open("Indices", strconv.Itoa(len(ch.Indices)))
		for s := 0; s < len(ch.Indices); s += INDICES_PER_LINE {
			e := s + INDICES_PER_LINE
			if e > len(ch.Indices) {
				e = len(ch.Indices)
			}
			c.line(formatInts(ch.Indices[s:e]...))
		}
		c.close()

		c.open("Vertices", strconv.Itoa(len(ch.Vertices)))
		for j := range ch.Vertices {
			c.line(formatVertex(&ch.Vertices[j], opts))
		}
		c.close()
		c.close()
	}
	c.close()
	c.close()
	return nil
}

func formatVertex(v *Vertex, opts WriteOptions) string {
	fields := opts.Declaration.Fields()
	groups := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case FIELD_POSITION:
			groups = append(groups, formatFloats32(v.Position[0], v.Position[1], v.Position[2]))
		case FIELD_WEIGHTS:
			wb := WeightBytes(v.Weights)
			groups = append(groups, formatInts(wb[:]...))
		case FIELD_BONE_INDICES:
			groups = append(groups, formatInts(v.BoneIndices[:]...))
		case FIELD_NORMAL:
			groups = append(groups, formatFloats32(v.Normal[0], v.Normal[1], v.Normal[2]))
		case FIELD_COLOR:
			groups = append(groups, formatColor(v.Color))
		case FIELD_COLOR2:
			groups = append(groups, formatColor(v.Color2))
		case FIELD_UV:
			groups = append(groups, formatFloats32(v.UV[0], -v.UV[1]))
		case FIELD_UV2:
			uv := v.UV
			if opts.SecondUV == SecondUVFromChunk {
				uv = v.UV2
			}
			groups = append(groups, formatFloats32(uv[0], -uv[1]))
		case FIELD_TANGENT:
			groups = append(groups, formatFloats32(v.Tangent[:]...))
		}
	}
	return strings.Join(groups, " / ")
}

func formatColor(c [4]byte) string {
	return formatInts(int(c[0]), int(c[1]), int(c[2]), int(c[3]))
}

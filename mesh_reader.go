package openformats

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

// Mesh is the content of one .mesh file.
type Mesh struct {
	Locked    bool             `json:"locked"`
	Skinned   bool             `json:"skinned"`
	BoneCount int              `json:"boneCount"`
	Mask      int              `json:"mask"`
	Chunks    []*GeometryChunk `json:"chunks"`
	// Failures lists Geometry blocks that were dropped.
	Failures []error `json:"-"`
}

type ReadOptions struct {
	Log      *Logger
	Encoding encoding.Encoding
}

func (o *ReadOptions) logger() *Logger {
	if o == nil {
		return nil
	}
	return o.Log
}

func (o *ReadOptions) encoding() encoding.Encoding {
	if o == nil {
		return nil
	}
	return o.Encoding
}

func MeshReadFrom(path string, opts *ReadOptions) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open mesh %s", path)
	}
	defer f.Close()
	m, err := ParseMesh(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "read mesh %s", path)
	}
	return m, nil
}

type numberedLine struct {
	no   int
	text string
}

// ParseMesh reads a .mesh document. A missing or unsupported header and a
// missing Geometries section are fatal; a malformed Geometry block is dropped
// and recorded in Failures.
func ParseMesh(r io.Reader, opts *ReadOptions) (*Mesh, error) {
	log := opts.logger()
	lr := NewLineReaderEncoding(r, opts.encoding())

	header, found, err := lr.ReadUntil("Version")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrap(ErrHeaderMismatch, "missing Version line")
	}
	if err := checkVersion(header, MESH_VERSION_MAJOR, MESH_VERSION_MINOR); err != nil {
		return nil, err
	}

	m := &Mesh{Mask: MESH_MASK}
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil, errors.Wrap(ErrSectionNotFound, "Geometries")
		}
		if err != nil {
			return nil, err
		}
		kw, args := keyword(line)
		if kw == "Geometries" {
			break
		}
		if len(args) == 0 {
			continue
		}
		switch kw {
		case "Locked":
			m.Locked = args[0] == "True"
		case "Skinned":
			m.Skinned = args[0] == "True"
		case "BoneCount":
			m.BoneCount, _ = strconv.Atoi(args[0])
		case "Mask":
			m.Mask, _ = strconv.Atoi(args[0])
		}
	}

	line, err := lr.nextSignificant()
	if err != nil || !isOpenBrace(line) {
		return nil, structuralf(lr.LineNumber(), "Geometries is not followed by an opening brace")
	}

	index := 0
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			log.Printf("mesh: Geometries section is not closed")
			break
		}
		if err != nil {
			return nil, err
		}
		if isCloseBrace(line) {
			break
		}
		if kw, _ := keyword(line); kw != "Geometry" {
			continue
		}
		block, err := collectBlock(lr)
		if err != nil {
			m.Failures = append(m.Failures, &ChunkError{Index: index, Err: err})
			log.Printf("mesh: geometry %d dropped: %v", index, err)
			break
		}
		chunk, err := parseGeometry(block)
		if err != nil {
			m.Failures = append(m.Failures, &ChunkError{Index: index, Err: err})
			log.Printf("mesh: geometry %d dropped: %v", index, err)
		} else {
			m.Chunks = append(m.Chunks, chunk)
		}
		index++
	}
	return m, nil
}

func checkVersion(line string, major, minor int) error {
	_, args := keyword(line)
	if len(args) < 2 {
		return errors.Wrapf(ErrHeaderMismatch, "malformed version line %q", strings.TrimSpace(line))
	}
	a, err1 := strconv.Atoi(args[0])
	b, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || a != major || b != minor {
		return errors.Wrapf(ErrHeaderMismatch, "version %s %s, want %d %d", args[0], args[1], major, minor)
	}
	return nil
}

// collectBlock reads a brace-delimited block whose header was just consumed.
// The returned lines exclude the outer braces.
func collectBlock(lr *LineReader) ([]numberedLine, error) {
	line, err := lr.nextSignificant()
	if err != nil {
		return nil, structuralf(lr.LineNumber(), "unexpected end of input before block")
	}
	if !isOpenBrace(line) {
		return nil, structuralf(lr.LineNumber(), "expected '{', got %q", strings.TrimSpace(line))
	}
	depth := 1
	var out []numberedLine
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil, structuralf(lr.LineNumber(), "unterminated block")
		}
		if err != nil {
			return nil, err
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth == 0 {
			return out, nil
		}
		if depth < 0 {
			return nil, structuralf(lr.LineNumber(), "unbalanced '}'")
		}
		out = append(out, numberedLine{no: lr.LineNumber(), text: line})
	}
}

// innerBlock returns the lines between the braces that follow block[at].
func innerBlock(block []numberedLine, at int) ([]numberedLine, int, error) {
	if at+1 >= len(block) || !isOpenBrace(block[at+1].text) {
		return nil, 0, structuralf(block[at].no, "expected '{' after %q", strings.TrimSpace(block[at].text))
	}
	for j := at + 2; j < len(block); j++ {
		if isCloseBrace(block[j].text) {
			return block[at+2 : j], j, nil
		}
	}
	return nil, 0, structuralf(block[at].no, "unterminated %q block", strings.TrimSpace(block[at].text))
}

func parseGeometry(block []numberedLine) (*GeometryChunk, error) {
	chunk := &GeometryChunk{}
	for i := 0; i < len(block); i++ {
		kw, args := keyword(block[i].text)
		switch kw {
		case "ShaderIndex":
			if len(args) == 0 {
				return nil, structuralf(block[i].no, "ShaderIndex without value")
			}
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, structuralf(block[i].no, "ShaderIndex %q", args[0])
			}
			chunk.ShaderIndex = v
		case "VertexDeclaration":
			if len(args) > 0 {
				chunk.Declaration = args[0]
			}
		case "Indices":
			n, err := declaredCount(block[i], args)
			if err != nil {
				return nil, err
			}
			body, end, err := innerBlock(block, i)
			if err != nil {
				return nil, err
			}
			indices := make([]int, 0, n)
			for _, l := range body {
				for _, tok := range strings.Fields(l.text) {
					v, err := strconv.Atoi(tok)
					if err != nil {
						return nil, structuralf(l.no, "index %q is not an integer", tok)
					}
					indices = append(indices, v)
				}
			}
			if len(indices) != n {
				return nil, structuralf(block[i].no, "Indices declares %d values, found %d", n, len(indices))
			}
			chunk.Indices = indices
			i = end
		case "Vertices":
			n, err := declaredCount(block[i], args)
			if err != nil {
				return nil, err
			}
			body, end, err := innerBlock(block, i)
			if err != nil {
				return nil, err
			}
			verts := make([]Vertex, 0, n)
			for _, l := range body {
				if strings.TrimSpace(l.text) == "" {
					continue
				}
				v, layout, err := parseVertexLine(l.text)
				if err != nil {
					return nil, errors.Wrapf(err, "line %d", l.no)
				}
				if layout.has(FIELD_UV2) {
					chunk.HasUV2 = true
				}
				if layout.has(FIELD_TANGENT) {
					chunk.HasTangent = true
				}
				verts = append(verts, v)
			}
			if len(verts) != n {
				return nil, structuralf(block[i].no, "Vertices declares %d entries, found %d", n, len(verts))
			}
			chunk.Vertices = verts
			i = end
		}
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return chunk, nil
}

func declaredCount(l numberedLine, args []string) (int, error) {
	if len(args) == 0 {
		return 0, structuralf(l.no, "%q without count", strings.TrimSpace(l.text))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, structuralf(l.no, "bad count %q", args[0])
	}
	return n, nil
}

func splitVertexGroups(line string) [][]string {
	parts := strings.Split(line, "/")
	groups := make([][]string, len(parts))
	for i, p := range parts {
		groups[i] = strings.Fields(p)
	}
	return groups
}

func parseVertexLine(line string) (Vertex, vertexLayout, error) {
	groups := splitVertexGroups(line)
	layout, err := detectVertexLayout(groups)
	if err != nil {
		return Vertex{}, layout, err
	}
	v := NewVertex(vec3.T{})
	for i, field := range layout.fields {
		g := groups[i]
		width := fieldWidths[field]
		switch field {
		case FIELD_POSITION, FIELD_NORMAL:
			f, err := parseFloats(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex field %d: %v", i, err)
			}
			if field == FIELD_POSITION {
				v.Position = vec3.T{f[0], f[1], f[2]}
			} else {
				v.Normal = vec3.T{f[0], f[1], f[2]}
			}
		case FIELD_WEIGHTS:
			f, err := parseFloats(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex weights: %v", err)
			}
			for j := range v.Weights {
				v.Weights[j] = f[j] / WEIGHT_TOTAL
			}
		case FIELD_BONE_INDICES:
			ints, err := parseInts(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex bone indices: %v", err)
			}
			copy(v.BoneIndices[:], ints)
		case FIELD_COLOR, FIELD_COLOR2:
			ints, err := parseInts(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex color: %v", err)
			}
			var c [4]byte
			for j := range c {
				c[j] = clampByte(ints[j])
			}
			if field == FIELD_COLOR {
				v.Color = c
			} else {
				v.Color2 = c
			}
		case FIELD_UV, FIELD_UV2:
			f, err := parseFloats(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex uv: %v", err)
			}
			uv := vec2.T{f[0], -f[1]}
			if field == FIELD_UV {
				v.UV = uv
			} else {
				v.UV2 = uv
			}
		case FIELD_TANGENT:
			f, err := parseFloats(g, width)
			if err != nil {
				return v, layout, errors.Wrapf(ErrStructure, "vertex tangent: %v", err)
			}
			copy(v.Tangent[:], f)
		}
	}
	return v, layout, nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

package openformats

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ODRDocument references the shaders, skeleton and per-LOD meshes of one object.
// Every path is already joined with the document's directory.
type ODRDocument struct {
	Path         string             `json:"path,omitempty"`
	Shaders      []*ShaderReference `json:"shaders,omitempty"`
	SkeletonPath string             `json:"skeletonPath,omitempty"`
	LODs         [LOD_COUNT]string  `json:"lods"`
	LODDistances [LOD_COUNT]float32 `json:"lodDistances"`
}

func (d *ODRDocument) HasSkeleton() bool {
	return d.SkeletonPath != ""
}

// MeshPaths returns the referenced mesh of every LOD that has one.
func (d *ODRDocument) MeshPaths() map[LOD]string {
	out := make(map[LOD]string)
	for i, p := range d.LODs {
		if p != "" {
			out[LOD(i)] = p
		}
	}
	return out
}

func ODRReadFrom(path string, opts *ReadOptions) (*ODRDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open odr %s", path)
	}
	defer f.Close()
	doc, err := ParseODR(f, filepath.Dir(path), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "read odr %s", path)
	}
	doc.Path = path
	return doc, nil
}

// ParseODR reads an ODR document. All three sections are optional.
func ParseODR(r io.Reader, dir string, opts *ReadOptions) (*ODRDocument, error) {
	lr := NewLineReaderEncoding(r, opts.encoding())
	doc := &ODRDocument{}
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, err
		}
		kw, args := keyword(line)
		switch kw {
		case "Shaders":
			if err := parseShaders(lr, doc); err != nil {
				return nil, err
			}
		case "Skeleton":
			if len(args) > 0 && !isNullRef(args[0]) {
				doc.SkeletonPath = resolveRef(dir, args[0])
			}
		case "LodGroup":
			if err := parseLodGroup(lr, dir, doc); err != nil {
				return nil, err
			}
		}
	}
}

func resolveRef(dir, ref string) string {
	ref = filepath.FromSlash(strings.ReplaceAll(ref, "\\", "/"))
	if filepath.IsAbs(ref) || dir == "" {
		return ref
	}
	return filepath.Join(dir, ref)
}

func expectOpen(lr *LineReader, what string) error {
	line, err := lr.nextSignificant()
	if err == io.EOF {
		return structuralf(lr.LineNumber(), "unexpected end of input after %s", what)
	}
	if err != nil {
		return err
	}
	if !isOpenBrace(line) {
		return structuralf(lr.LineNumber(), "%s: expected '{', got %q", what, strings.TrimSpace(line))
	}
	return nil
}

func parseShaders(lr *LineReader, doc *ODRDocument) error {
	if err := expectOpen(lr, "Shaders"); err != nil {
		return err
	}
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			return structuralf(lr.LineNumber(), "unterminated Shaders section")
		}
		if err != nil {
			return err
		}
		if isCloseBrace(line) {
			return nil
		}
		if !strings.Contains(line, ".sps") {
			continue
		}
		shader, err := parseShader(lr, strings.TrimSpace(line))
		if err != nil {
			return err
		}
		doc.Shaders = append(doc.Shaders, shader)
	}
}

func parseShader(lr *LineReader, name string) (*ShaderReference, error) {
	s := NewShaderReference(name)
	if err := expectOpen(lr, name); err != nil {
		return nil, err
	}
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			return nil, structuralf(lr.LineNumber(), "unterminated shader %q", name)
		}
		if err != nil {
			return nil, err
		}
		if isCloseBrace(line) {
			return s, nil
		}
		kw, args := keyword(line)
		if len(args) == 0 {
			continue
		}
		switch kw {
		case "DiffuseSampler":
			if !isNullRef(args[0]) {
				s.DiffuseSampler = args[0]
			}
		case "BumpSampler":
			if !isNullRef(args[0], "dummy_normal") {
				s.BumpSampler = args[0]
			}
		case "SpecSampler":
			if !isNullRef(args[0], "dummy_spec") {
				s.SpecSampler = args[0]
			}
		case "Bumpiness":
			f, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return nil, structuralf(lr.LineNumber(), "shader %q Bumpiness %q", name, args[0])
			}
			s.Bumpiness = float32(f)
		default:
			s.Params[kw] = ParsePropsValue(args)
		}
	}
}

func parseLodGroup(lr *LineReader, dir string, doc *ODRDocument) error {
	if err := expectOpen(lr, "LodGroup"); err != nil {
		return err
	}
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			return structuralf(lr.LineNumber(), "unterminated LodGroup section")
		}
		if err != nil {
			return err
		}
		if isCloseBrace(line) {
			return nil
		}
		kw, args := keyword(line)
		lod, ok := parseLOD(kw)
		if !ok {
			continue
		}
		if len(args) > 0 {
			if f, err := strconv.ParseFloat(args[0], 32); err == nil {
				doc.LODDistances[lod] = float32(f)
			}
		}
		next, err := lr.nextSignificant()
		if err == io.EOF {
			return structuralf(lr.LineNumber(), "unterminated LodGroup section")
		}
		if err != nil {
			return err
		}
		if !isOpenBrace(next) {
			lr.UnreadLine(next)
			continue
		}
		for {
			entry, err := lr.nextSignificant()
			if err == io.EOF {
				return structuralf(lr.LineNumber(), "unterminated %s block", kw)
			}
			if err != nil {
				return err
			}
			if isCloseBrace(entry) {
				break
			}
			ref, _ := keyword(entry)
			if doc.LODs[lod] == "" && !isNullRef(ref) {
				doc.LODs[lod] = resolveRef(dir, ref)
			}
		}
	}
}

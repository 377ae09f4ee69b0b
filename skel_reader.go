package openformats

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/flywave/go3d/vec3"
)

func SkeletonReadFrom(path string, opts *ReadOptions) (*Skeleton, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open skeleton %s", path)
	}
	defer f.Close()
	s, err := ParseSkeleton(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "read skeleton %s", path)
	}
	s.Path = path
	return s, nil
}

// ParseSkeleton reads a .skel document. Any failure discards the whole
// skeleton; a partially parsed hierarchy is never returned.
func ParseSkeleton(r io.Reader, opts *ReadOptions) (*Skeleton, error) {
	log := opts.logger()
	lr := NewLineReaderEncoding(r, opts.encoding())

	if _, found, err := lr.ReadUntil("Version"); err != nil {
		return nil, err
	} else if !found {
		return nil, errors.Wrap(ErrHeaderMismatch, "missing Version line")
	}

	skel := NewSkeleton()
	p := &skelParser{lr: lr, skel: skel}
	roots := 0
	for {
		line, err := lr.nextSignificant()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		kw, args := keyword(line)
		switch kw {
		case "NumBones":
			if len(args) > 0 {
				skel.DeclaredBones, _ = strconv.Atoi(args[0])
			}
		case "Bone":
			if err := p.bone(line, ""); err != nil {
				return nil, err
			}
			roots++
		}
	}
	if roots == 0 {
		return nil, errors.Wrap(ErrSectionNotFound, "Bone")
	}
	if skel.DeclaredBones != 0 && skel.DeclaredBones != skel.Len() {
		log.Printf("skel: NumBones declares %d bones, parsed %d", skel.DeclaredBones, skel.Len())
	}
	return skel, nil
}

type skelParser struct {
	lr   *LineReader
	skel *Skeleton
}

func (p *skelParser) next(context string) (string, error) {
	line, err := p.lr.nextSignificant()
	if err == io.EOF {
		return "", structuralf(p.lr.LineNumber(), "unexpected end of input in %s", context)
	}
	return line, err
}

func (p *skelParser) bone(header string, parent string) error {
	_, args := keyword(header)
	if len(args) == 0 {
		return structuralf(p.lr.LineNumber(), "Bone without name")
	}
	b := NewBone(args[0])
	if len(args) > 1 {
		b.ID = args[1]
	}
	if err := p.skel.AddBone(b, parent); err != nil {
		return errors.Wrapf(err, "line %d", p.lr.LineNumber())
	}

	line, err := p.next("bone " + b.Name)
	if err != nil {
		return err
	}
	if !isOpenBrace(line) {
		return structuralf(p.lr.LineNumber(), "bone %q: expected '{', got %q", b.Name, strings.TrimSpace(line))
	}

	for {
		line, err := p.next("bone " + b.Name)
		if err != nil {
			return err
		}
		if isCloseBrace(line) {
			return nil
		}
		kw, args := keyword(line)
		switch kw {
		case "RotationQuaternion":
			f, err := parseFloats(args, 4)
			if err != nil {
				return structuralf(p.lr.LineNumber(), "bone %q RotationQuaternion: %v", b.Name, err)
			}
			copy(b.Rotation[:], f)
		case "LocalOffset":
			f, err := parseFloats(args, 3)
			if err != nil {
				return structuralf(p.lr.LineNumber(), "bone %q LocalOffset: %v", b.Name, err)
			}
			b.Offset = vec3.T{f[0], f[1], f[2]}
		case "Scale":
			f, err := parseFloats(args, 3)
			if err != nil {
				return structuralf(p.lr.LineNumber(), "bone %q Scale: %v", b.Name, err)
			}
			b.Scale = vec3.T{f[0], f[1], f[2]}
		case "Children":
			if len(args) == 0 {
				return structuralf(p.lr.LineNumber(), "bone %q: Children without count", b.Name)
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return structuralf(p.lr.LineNumber(), "bone %q: bad Children count %q", b.Name, args[0])
			}
			if err := p.children(b, n); err != nil {
				return err
			}
			return p.closeBone(b)
		case "Bone":
			return structuralf(p.lr.LineNumber(), "bone %q: child bone before Children count", b.Name)
		}
	}
}

// children parses exactly n child blocks, optionally wrapped in braces.
func (p *skelParser) children(b *Bone, n int) error {
	line, err := p.next("children of " + b.Name)
	if err != nil {
		return err
	}
	wrapped := isOpenBrace(line)
	if !wrapped {
		p.lr.UnreadLine(line)
	}
	for i := 0; i < n; {
		line, err := p.next("children of " + b.Name)
		if err != nil {
			return err
		}
		if isCloseBrace(line) {
			return structuralf(p.lr.LineNumber(), "bone %q declares %d children, found %d", b.Name, n, i)
		}
		if kw, _ := keyword(line); kw != "Bone" {
			continue
		}
		if err := p.bone(line, b.Name); err != nil {
			return err
		}
		i++
	}
	if wrapped {
		return p.expectClose(b, n)
	}
	return nil
}

func (p *skelParser) closeBone(b *Bone) error {
	return p.expectClose(b, len(b.Children))
}

func (p *skelParser) expectClose(b *Bone, n int) error {
	for {
		line, err := p.next("bone " + b.Name)
		if err != nil {
			return err
		}
		if isCloseBrace(line) {
			return nil
		}
		if kw, _ := keyword(line); kw == "Bone" {
			return structuralf(p.lr.LineNumber(), "bone %q declares %d children, found more", b.Name, n)
		}
	}
}

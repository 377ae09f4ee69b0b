package openformats

import (
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// WriteSkeleton emits the stored file values of skel, so a parsed skeleton is
// written back unchanged.
func WriteSkeleton(w io.Writer, skel *Skeleton) error {
	var c composer
	if err := composeSkeleton(&c, skel); err != nil {
		return err
	}
	return c.flush(w)
}

func SkeletonWriteTo(path string, skel *Skeleton) error {
	var c composer
	if err := composeSkeleton(&c, skel); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(c.String()), 0644); err != nil {
		return errors.Wrapf(err, "write skeleton %s", path)
	}
	return nil
}

func composeSkeleton(c *composer, skel *Skeleton) error {
	if skel == nil || skel.Len() == 0 {
		return errors.Wrap(ErrSectionNotFound, "skeleton has no bones")
	}
	c.line("Version", strconv.Itoa(SKEL_VERSION_MAJOR), strconv.Itoa(SKEL_VERSION_MINOR))
	c.open()
	c.line("NumBones", strconv.Itoa(skel.Len()))
	seen := make(map[string]bool, skel.Len())
	var emit func(b *Bone) error
	emit = func(b *Bone) error {
		if seen[b.Name] {
			return errors.Wrapf(ErrStructure, "bone %q reached twice", b.Name)
		}
		seen[b.Name] = true
		header := []string{"Bone", b.Name}
		if b.ID != "" {
			header = append(header, b.ID)
		}
		c.open(header...)
		c.line("Index", strconv.Itoa(b.Index))
		c.line("LocalOffset", formatFloats32(b.Offset[0], b.Offset[1], b.Offset[2]))
		c.line("RotationQuaternion", formatFloats32(b.Rotation[:]...))
		c.line("Scale", formatFloats32(b.Scale[0], b.Scale[1], b.Scale[2]))
		c.line("Children", strconv.Itoa(len(b.Children)))
		c.open()
		for _, name := range b.Children {
			child := skel.Bone(name)
			if child == nil {
				return errors.Wrapf(ErrStructure, "bone %q lists unknown child %q", b.Name, name)
			}
			if err := emit(child); err != nil {
				return err
			}
		}
		c.close()
		c.close()
		return nil
	}
	for _, root := range skel.Roots() {
		if err := emit(root); err != nil {
			return err
		}
	}
	c.close()
	return nil
}

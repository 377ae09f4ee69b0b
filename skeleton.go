package openformats

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/flywave/go3d/vec3"
)

// Quaternion component slots as stored in a .skel file.
const (
	QX = iota
	QY
	QZ
	QW
)

// fileToPoseRotation gives, for each pose component in (w, x, y, z) order,
// the file component it is read from. The table and the sign tables below
// reproduce the engine's convention and are only verified against sample assets.
var fileToPoseRotation = [4]int{QZ, QW, QX, QY}

// poseRotationSign is applied to the remapped (w, x, y, z) components.
var poseRotationSign = [4]float32{1, -1, 1, -1}

var poseOffsetSign = vec3.T{1, -1, 1}

// Root bones whose name contains rootBoneMarker get rootScaleSign applied to their scale.
const rootBoneMarker = "ROOT"

var rootScaleSign = vec3.T{1, -1, 1}

// stubTail is the head-to-tail offset used when a bone would otherwise have zero length.
var stubTail = vec3.T{0, -0.02, 0}

type Bone struct {
	Name     string     `json:"name"`
	ID       string     `json:"id,omitempty"`
	Index    int        `json:"index"`
	Parent   string     `json:"parent,omitempty"`
	Offset   vec3.T     `json:"offset"`
	Rotation [4]float32 `json:"rotation"`
	Scale    vec3.T     `json:"scale"`
	Children []string   `json:"children,omitempty"`
}

func NewBone(name string) *Bone {
	return &Bone{Name: name, Rotation: [4]float32{0, 0, 0, 1}, Scale: vec3.T{1, 1, 1}}
}

func (b *Bone) IsRoot() bool {
	return b.Parent == ""
}

// BonePose is a bone's local transform in the host convention.
type BonePose struct {
	Location mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func (p BonePose) Mat4() mgl32.Mat4 {
	t := mgl32.Translate3D(p.Location[0], p.Location[1], p.Location[2])
	s := mgl32.Scale3D(p.Scale[0], p.Scale[1], p.Scale[2])
	return t.Mul4(p.Rotation.Mat4()).Mul4(s)
}

// Pose converts the stored file values into the host convention.
func (b *Bone) Pose() BonePose {
	var c [4]float32
	for i := range c {
		c[i] = b.Rotation[fileToPoseRotation[i]] * poseRotationSign[i]
	}
	q := mgl32.Quat{W: c[0], V: mgl32.Vec3{c[1], c[2], c[3]}}
	if q.Len() > 0 {
		q = q.Normalize()
	} else {
		q = mgl32.QuatIdent()
	}
	scale := b.Scale
	if b.IsRoot() && strings.Contains(strings.ToUpper(b.Name), rootBoneMarker) {
		scale = vec3.T{scale[0] * rootScaleSign[0], scale[1] * rootScaleSign[1], scale[2] * rootScaleSign[2]}
	}
	return BonePose{
		Location: mgl32.Vec3{b.Offset[0] * poseOffsetSign[0], b.Offset[1] * poseOffsetSign[1], b.Offset[2] * poseOffsetSign[2]},
		Rotation: q,
		Scale:    mgl32.Vec3{scale[0], scale[1], scale[2]},
	}
}

// Skeleton keeps bones in depth-first declaration order; a bone's position in
// Bones is the bone index meshes refer to.
type Skeleton struct {
	Path          string  `json:"path,omitempty"`
	DeclaredBones int     `json:"declaredBones"`
	Bones         []*Bone `json:"bones"`
	byName        map[string]*Bone
}

func NewSkeleton() *Skeleton {
	return &Skeleton{byName: make(map[string]*Bone)}
}

func (s *Skeleton) Len() int {
	return len(s.Bones)
}

func (s *Skeleton) Bone(name string) *Bone {
	if s.byName == nil {
		s.reindex()
	}
	return s.byName[name]
}

func (s *Skeleton) reindex() {
	s.byName = make(map[string]*Bone, len(s.Bones))
	for _, b := range s.Bones {
		s.byName[b.Name] = b
	}
}

// AddBone appends b, linking it to parent when parent is not empty.
func (s *Skeleton) AddBone(b *Bone, parent string) error {
	if s.byName == nil {
		s.reindex()
	}
	if _, ok := s.byName[b.Name]; ok {
		return errors.Wrapf(ErrStructure, "duplicate bone %q", b.Name)
	}
	if parent != "" {
		p, ok := s.byName[parent]
		if !ok {
			return errors.Wrapf(ErrStructure, "bone %q references unknown parent %q", b.Name, parent)
		}
		p.Children = append(p.Children, b.Name)
	}
	b.Parent = parent
	b.Index = len(s.Bones)
	s.Bones = append(s.Bones, b)
	s.byName[b.Name] = b
	return nil
}

func (s *Skeleton) Roots() []*Bone {
	var out []*Bone
	for _, b := range s.Bones {
		if b.IsRoot() {
			out = append(out, b)
		}
	}
	return out
}

func (s *Skeleton) Names() []string {
	out := make([]string, len(s.Bones))
	for i, b := range s.Bones {
		out[i] = b.Name
	}
	return out
}

// WorldTransforms composes every bone's pose with its ancestors'. Parents are
// resolved before children regardless of the order of Bones.
func (s *Skeleton) WorldTransforms() ([]mgl32.Mat4, error) {
	out := make([]mgl32.Mat4, len(s.Bones))
	state := make([]int, len(s.Bones))
	var visit func(b *Bone) error
	visit = func(b *Bone) error {
		switch state[b.Index] {
		case 2:
			return nil
		case 1:
			return errors.Wrapf(ErrStructure, "bone hierarchy cycle at %q", b.Name)
		}
		state[b.Index] = 1
		local := b.Pose().Mat4()
		if b.Parent != "" {
			p := s.Bone(b.Parent)
			if p == nil {
				return errors.Wrapf(ErrStructure, "bone %q references unknown parent %q", b.Name, b.Parent)
			}
			if err := visit(p); err != nil {
				return err
			}
			local = out[p.Index].Mul4(local)
		}
		out[b.Index] = local
		state[b.Index] = 2
		return nil
	}
	for _, b := range s.Bones {
		if err := visit(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// HeadsAndTails places every bone: the head is the world origin of the bone
// and the tail points at its first child, or uses the stub offset.
func (s *Skeleton) HeadsAndTails() (heads, tails []vec3.T, err error) {
	world, err := s.WorldTransforms()
	if err != nil {
		return nil, nil, err
	}
	heads = make([]vec3.T, len(s.Bones))
	tails = make([]vec3.T, len(s.Bones))
	for i, m := range world {
		c := m.Col(3)
		heads[i] = vec3.T{c[0], c[1], c[2]}
	}
	for i, b := range s.Bones {
		tails[i] = heads[i]
		if len(b.Children) > 0 {
			if child := s.Bone(b.Children[0]); child != nil {
				tails[i] = heads[child.Index]
			}
		}
		d := vec3.Sub(&tails[i], &heads[i])
		if d.Length() < 1e-6 {
			tails[i] = vec3.Add(&heads[i], &stubTail)
		}
	}
	return heads, tails, nil
}

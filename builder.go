package openformats

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/flywave/go3d/vec3"
)

// SceneBuilder is implemented by whatever hosts the imported scene. The build
// functions below only talk to the host through it.
type SceneBuilder interface {
	BeginMesh(name string, shaderIndex int) error
	AddVertex(v Vertex) int
	// AddFace returns ErrDegenerateFace for faces the host refuses.
	AddFace(a, b, c int) error
	SetWeight(vertex int, group string, weight float32)
	EndMesh() error

	BeginSkeleton(name string) error
	AddBone(bone *Bone, head, tail vec3.T, pose BonePose) error
	EndSkeleton() error
	// AbortSkeleton drops everything added since BeginSkeleton.
	AbortSkeleton()
}

// ShaderAware builders receive each object's shader list before its meshes.
type ShaderAware interface {
	UseShaders(shaders []*ShaderReference, dir string)
}

// FaceFilter rejects triangles with repeated corners and triangles already seen.
type FaceFilter struct {
	seen map[[3]int]struct{}
}

func (f *FaceFilter) Reset() {
	f.seen = nil
}

func (f *FaceFilter) Accept(a, b, c int) error {
	if a == b || b == c || a == c {
		return errors.Wrapf(ErrDegenerateFace, "repeated vertex in (%d, %d, %d)", a, b, c)
	}
	if f.seen == nil {
		f.seen = make(map[[3]int]struct{})
	}
	key := faceKey(a, b, c)
	if _, ok := f.seen[key]; ok {
		return errors.Wrapf(ErrDegenerateFace, "duplicate face (%d, %d, %d)", a, b, c)
	}
	f.seen[key] = struct{}{}
	return nil
}

// BuildChunk hands one chunk to the builder. Faces the builder rejects as
// degenerate are skipped and counted.
func BuildChunk(b SceneBuilder, name string, chunk *GeometryChunk, groups map[int]string) (int, error) {
	if err := chunk.Validate(); err != nil {
		return 0, errors.Wrapf(err, "mesh %s", name)
	}
	if err := b.BeginMesh(name, chunk.ShaderIndex); err != nil {
		return 0, err
	}
	ids := make([]int, len(chunk.Vertices))
	for i := range chunk.Vertices {
		ids[i] = b.AddVertex(chunk.Vertices[i])
	}
	skipped := 0
	for f := 0; f+2 < len(chunk.Indices); f += 3 {
		err := b.AddFace(ids[chunk.Indices[f]], ids[chunk.Indices[f+1]], ids[chunk.Indices[f+2]])
		if errors.Is(err, ErrDegenerateFace) {
			skipped++
			continue
		}
		if err != nil {
			return skipped, errors.Wrapf(err, "mesh %s face %d", name, f/3)
		}
	}
	for i := range chunk.Vertices {
		v := &chunk.Vertices[i]
		for j := 0; j < INFLUENCES; j++ {
			if v.Weights[j] <= 0 {
				continue
			}
			b.SetWeight(ids[i], groupName(groups, v.BoneIndices[j]), v.Weights[j])
		}
	}
	return skipped, b.EndMesh()
}

func groupName(groups map[int]string, idx int) string {
	if n, ok := groups[idx]; ok {
		return n
	}
	return strconv.Itoa(idx)
}

// BuildSkeleton adds every bone after its parent. On any failure the
// partially built skeleton is aborted.
func BuildSkeleton(b SceneBuilder, name string, skel *Skeleton) (err error) {
	heads, tails, err := skel.HeadsAndTails()
	if err != nil {
		return err
	}
	if err := b.BeginSkeleton(name); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			b.AbortSkeleton()
		}
	}()

	done := make(map[string]bool, skel.Len())
	var add func(bone *Bone) error
	add = func(bone *Bone) error {
		if done[bone.Name] {
			return nil
		}
		if bone.Parent != "" {
			parent := skel.Bone(bone.Parent)
			if parent == nil {
				return errors.Wrapf(ErrStructure, "bone %q references unknown parent %q", bone.Name, bone.Parent)
			}
			if err := add(parent); err != nil {
				return err
			}
		}
		if err := b.AddBone(bone, heads[bone.Index], tails[bone.Index], bone.Pose()); err != nil {
			return errors.Wrapf(err, "bone %s", bone.Name)
		}
		done[bone.Name] = true
		return nil
	}
	for _, bone := range skel.Bones {
		if err := add(bone); err != nil {
			return err
		}
	}
	return b.EndSkeleton()
}

type BuildOptions struct {
	// MergeShaders joins chunks sharing a shader index into one mesh.
	MergeShaders bool
}

// BuildReport counts the faces skipped per built mesh.
type BuildReport struct {
	Skipped map[string]int
}

func (r *BuildReport) TotalSkipped() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// BuildObject builds the skeleton and every LOD mesh of obj.
func BuildObject(b SceneBuilder, obj *Object, opts BuildOptions) (*BuildReport, error) {
	report := &BuildReport{Skipped: make(map[string]int)}
	base := objectName(obj)
	if sa, ok := b.(ShaderAware); ok && obj.ODR != nil {
		sa.UseShaders(obj.ODR.Shaders, filepath.Dir(obj.ODR.Path))
	}
	if obj.Skeleton != nil {
		if err := BuildSkeleton(b, skeletonName(obj.Skeleton), obj.Skeleton.Skeleton); err != nil {
			return report, err
		}
	}
	for _, m := range obj.Meshes {
		chunks := m.Mesh.Chunks
		if opts.MergeShaders {
			chunks = MergeByShader(chunks)
		}
		for i, c := range chunks {
			name := fmt.Sprintf("%s_%s_%d", base, m.LOD, i)
			skipped, err := BuildChunk(b, name, c, m.Groups)
			if err != nil {
				return report, err
			}
			report.Skipped[name] = skipped
		}
	}
	return report, nil
}

func objectName(obj *Object) string {
	if obj.ODR != nil && obj.ODR.Path != "" {
		return stem(obj.ODR.Path)
	}
	if len(obj.Meshes) > 0 && obj.Meshes[0].Path != "" {
		return stem(obj.Meshes[0].Path)
	}
	return "object"
}

func skeletonName(s *ResolvedSkeleton) string {
	if s.Path != "" {
		return stem(s.Path)
	}
	return "skeleton"
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BuildCollection builds every object of col, stopping at the first failure.
func BuildCollection(b SceneBuilder, col *Collection, opts BuildOptions) (*BuildReport, error) {
	report := &BuildReport{Skipped: make(map[string]int)}
	for _, obj := range col.Objects {
		r, err := BuildObject(b, obj, opts)
		for k, v := range r.Skipped {
			report.Skipped[k] = v
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

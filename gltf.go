package openformats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/flywave/go3d/vec3"
)

const (
	GLTF_VERSION = "2.0"
	// GLB chunks are 4-byte aligned.
	GLB_PADDING = 4
)

func CreateDoc() *gltf.Document {
	doc := &gltf.Document{}
	doc.Asset.Version = GLTF_VERSION
	doc.Asset.Generator = "go-openformats"
	doc.Scene = gltf.Index(0)
	doc.Scenes = append(doc.Scenes, &gltf.Scene{})
	doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	return doc
}

type calcSizeWriter struct {
	writer *bytes.Buffer
	Size   int
}

func (w *calcSizeWriter) Write(p []byte) (n int, err error) {
	w.writer.Write(p)
	w.Size += len(p)
	return len(p), nil
}

func calcPadding(offset, paddingUnit int) int {
	padding := offset % paddingUnit
	if padding != 0 {
		padding = paddingUnit - padding
	}
	return padding
}

// GetGltfBinary encodes doc as GLB, padded with spaces to a multiple of paddingUnit.
func GetGltfBinary(doc *gltf.Document, paddingUnit int) ([]byte, error) {
	w := &calcSizeWriter{writer: bytes.NewBuffer(nil)}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if paddingUnit <= 0 {
		return w.writer.Bytes(), nil
	}
	if padding := calcPadding(w.Size, paddingUnit); padding > 0 {
		w.Write(bytes.Repeat([]byte{0x20}, padding))
	}
	return w.writer.Bytes(), nil
}

// SaveGltf writes doc as GLB when binary is set, as JSON glTF otherwise.
func SaveGltf(doc *gltf.Document, path string, binary bool) error {
	if binary {
		data, err := GetGltfBinary(doc, GLB_PADDING)
		if err != nil {
			return errors.Wrap(err, "encode glb")
		}
		return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	enc := gltf.NewEncoder(f)
	enc.AsBinary = false
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode gltf")
	}
	return nil
}

// appendBufferView stores raw bytes in the last buffer, 4-byte aligned.
func appendBufferView(doc *gltf.Document, data []byte) uint32 {
	if len(doc.Buffers) == 0 {
		doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	}
	buffer := doc.Buffers[len(doc.Buffers)-1]
	if pad := calcPadding(len(buffer.Data), 4); pad > 0 {
		buffer.Data = append(buffer.Data, make([]byte, pad)...)
	}
	view := &gltf.BufferView{
		Buffer:     uint32(len(doc.Buffers) - 1),
		ByteOffset: uint32(len(buffer.Data)),
		ByteLength: uint32(len(data)),
	}
	buffer.Data = append(buffer.Data, data...)
	buffer.ByteLength = uint32(len(buffer.Data))
	doc.BufferViews = append(doc.BufferViews, view)
	return uint32(len(doc.BufferViews) - 1)
}

type pendingMesh struct {
	name      string
	shader    int
	positions [][3]float32
	normals   [][3]float32
	uv0       [][2]float32
	uv1       [][2]float32
	colors    [][4]uint8
	tangents  [][4]float32
	indices   []uint32
	weights   []map[string]float32
	filter    FaceFilter
}

type pendingBone struct {
	bone   *Bone
	parent int
	pose   BonePose
}

type pendingSkeleton struct {
	name  string
	bones []pendingBone
	index map[string]int
}

type builtSkin struct {
	skin   uint32
	joints map[string]int
}

// GltfBuilder is a SceneBuilder that assembles a glTF document. Meshes built
// after a skeleton are skinned to it.
type GltfBuilder struct {
	Doc *gltf.Document
	Log *Logger
	// EmbedTextures looks up sampler images next to the ODR and embeds them.
	EmbedTextures bool

	shaders   []*ShaderReference
	shaderDir string
	materials map[int]uint32
	textures  map[string]uint32

	mesh  *pendingMesh
	skel  *pendingSkeleton
	skins map[string]*builtSkin
	skin  *builtSkin
}

func NewGltfBuilder(log *Logger) *GltfBuilder {
	return &GltfBuilder{
		Doc:       CreateDoc(),
		Log:       log,
		materials: make(map[int]uint32),
		textures:  make(map[string]uint32),
		skins:     make(map[string]*builtSkin),
	}
}

func (g *GltfBuilder) UseShaders(shaders []*ShaderReference, dir string) {
	g.shaders = shaders
	g.shaderDir = dir
	g.materials = make(map[int]uint32)
	g.skin = nil
}

func (g *GltfBuilder) BeginMesh(name string, shaderIndex int) error {
	if g.mesh != nil {
		return errors.Errorf("mesh %s is still open", g.mesh.name)
	}
	g.mesh = &pendingMesh{name: name, shader: shaderIndex}
	return nil
}

func (g *GltfBuilder) AddVertex(v Vertex) int {
	m := g.mesh
	m.positions = append(m.positions, [3]float32(v.Position))
	m.normals = append(m.normals, [3]float32(v.Normal))
	m.uv0 = append(m.uv0, [2]float32(v.UV))
	m.uv1 = append(m.uv1, [2]float32(v.UV2))
	m.colors = append(m.colors, v.Color)
	m.tangents = append(m.tangents, v.Tangent)
	m.weights = append(m.weights, nil)
	return len(m.positions) - 1
}

func (g *GltfBuilder) AddFace(a, b, c int) error {
	if err := g.mesh.filter.Accept(a, b, c); err != nil {
		return err
	}
	g.mesh.indices = append(g.mesh.indices, uint32(a), uint32(b), uint32(c))
	return nil
}

func (g *GltfBuilder) SetWeight(vertex int, group string, weight float32) {
	m := g.mesh
	if m.weights[vertex] == nil {
		m.weights[vertex] = make(map[string]float32)
	}
	m.weights[vertex][group] += weight
}

func (g *GltfBuilder) EndMesh() error {
	m := g.mesh
	g.mesh = nil
	if m == nil {
		return errors.New("no open mesh")
	}
	if len(m.indices) == 0 {
		g.Log.Printf("gltf: mesh %s has no faces, skipped", m.name)
		return nil
	}
	doc := g.Doc
	attributes := map[string]uint32{
		"POSITION":   modeler.WritePosition(doc, m.positions),
		"NORMAL":     modeler.WriteNormal(doc, m.normals),
		"TEXCOORD_0": modeler.WriteTextureCoord(doc, flipV(m.uv0)),
		"TEXCOORD_1": modeler.WriteTextureCoord(doc, flipV(m.uv1)),
		"COLOR_0":    modeler.WriteColor(doc, m.colors),
	}
	if hasTangents(m.tangents) {
		attributes["TANGENT"] = modeler.WriteTangent(doc, m.tangents)
	}
	var skin *uint32
	if g.skin != nil {
		joints, weights := g.jointWeights(m)
		attributes["JOINTS_0"] = modeler.WriteJoints(doc, joints)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(doc, weights)
		skin = gltf.Index(g.skin.skin)
	}
	material, err := g.material(m.shader)
	if err != nil {
		return err
	}
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: m.name,
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(modeler.WriteIndices(doc, m.indices)),
			Attributes: attributes,
			Material:   gltf.Index(material),
			Mode:       gltf.PrimitiveTriangles,
		}},
	})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name: m.name,
		Mesh: gltf.Index(uint32(len(doc.Meshes) - 1)),
		Skin: skin,
	})
	return nil
}

// glTF puts the texture origin at the top left.
func flipV(uvs [][2]float32) [][2]float32 {
	out := make([][2]float32, len(uvs))
	for i, uv := range uvs {
		out[i] = [2]float32{uv[0], 1 - uv[1]}
	}
	return out
}

func hasTangents(t [][4]float32) bool {
	for i := range t {
		if t[i] != [4]float32{} {
			return true
		}
	}
	return false
}

func (g *GltfBuilder) jointWeights(m *pendingMesh) ([][4]uint16, [][4]float32) {
	type influence struct {
		joint int
		w     float32
	}
	joints := make([][4]uint16, len(m.positions))
	weights := make([][4]float32, len(m.positions))
	for v, groups := range m.weights {
		var infl []influence
		for name, w := range groups {
			j, ok := g.skin.joints[name]
			if !ok {
				if n, err := strconv.Atoi(name); err == nil && n >= 0 && n < len(g.skin.joints) {
					j, ok = n, true
				}
			}
			if ok && w > 0 {
				infl = append(infl, influence{j, w})
			}
		}
		sort.Slice(infl, func(a, b int) bool {
			if infl[a].w == infl[b].w {
				return infl[a].joint < infl[b].joint
			}
			return infl[a].w > infl[b].w
		})
		if len(infl) > INFLUENCES {
			infl = infl[:INFLUENCES]
		}
		var sum float32
		for _, in := range infl {
			sum += in.w
		}
		if sum <= 0 {
			weights[v] = [4]float32{1, 0, 0, 0}
			continue
		}
		for i, in := range infl {
			joints[v][i] = uint16(in.joint)
			weights[v][i] = in.w / sum
		}
	}
	return joints, weights
}

func (g *GltfBuilder) material(shaderIndex int) (uint32, error) {
	if idx, ok := g.materials[shaderIndex]; ok {
		return idx, nil
	}
	gm := &gltf.Material{
		Name:        fmt.Sprintf("shader_%d", shaderIndex),
		DoubleSided: true,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{1, 1, 1, 1},
		},
	}
	if shaderIndex >= 0 && shaderIndex < len(g.shaders) {
		s := g.shaders[shaderIndex]
		gm.Name = s.Name
		extras := map[string]interface{}{"shaderType": s.Type, "bumpiness": s.Bumpiness}
		for _, kv := range []struct{ key, val string }{
			{"diffuseSampler", s.DiffuseSampler},
			{"bumpSampler", s.BumpSampler},
			{"specSampler", s.SpecSampler},
		} {
			if kv.val != "" {
				extras[kv.key] = kv.val
			}
		}
		if params := s.Params.ToMap(); params != nil {
			extras["params"] = params
		}
		gm.Extras = extras
		if g.EmbedTextures && s.HasDiffuse() {
			if tex, ok, err := g.texture(s.DiffuseSampler); err != nil {
				return 0, err
			} else if ok {
				gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: tex}
			}
		}
		if g.EmbedTextures && s.HasBump() {
			if tex, ok, err := g.texture(s.BumpSampler); err != nil {
				return 0, err
			} else if ok {
				scale := s.Bumpiness
				gm.NormalTexture = &gltf.NormalTexture{Index: gltf.Index(tex), Scale: &scale}
			}
		}
	}
	g.Doc.Materials = append(g.Doc.Materials, gm)
	idx := uint32(len(g.Doc.Materials) - 1)
	g.materials[shaderIndex] = idx
	return idx, nil
}

func (g *GltfBuilder) texture(sampler string) (uint32, bool, error) {
	path, ok := FindTexture(g.shaderDir, sampler)
	if !ok {
		return 0, false, nil
	}
	if idx, ok := g.textures[path]; ok {
		return idx, true, nil
	}
	tex, err := LoadTexture(path)
	if err != nil {
		g.Log.Printf("gltf: texture %s: %v", path, err)
		return 0, false, nil
	}
	doc := g.Doc
	view := appendBufferView(doc, tex.Data)
	doc.Images = append(doc.Images, &gltf.Image{Name: tex.Name, MimeType: "image/png", BufferView: gltf.Index(view)})
	doc.Samplers = append(doc.Samplers, &gltf.Sampler{WrapS: gltf.WrapRepeat, WrapT: gltf.WrapRepeat})
	doc.Textures = append(doc.Textures, &gltf.Texture{
		Sampler: gltf.Index(uint32(len(doc.Samplers) - 1)),
		Source:  gltf.Index(uint32(len(doc.Images) - 1)),
	})
	idx := uint32(len(doc.Textures) - 1)
	g.textures[path] = idx
	return idx, true, nil
}

func (g *GltfBuilder) BeginSkeleton(name string) error {
	if g.skel != nil {
		return errors.Errorf("skeleton %s is still open", g.skel.name)
	}
	g.skel = &pendingSkeleton{name: name, index: make(map[string]int)}
	return nil
}

func (g *GltfBuilder) AddBone(bone *Bone, head, tail vec3.T, pose BonePose) error {
	s := g.skel
	if s == nil {
		return errors.New("no open skeleton")
	}
	if _, ok := s.index[bone.Name]; ok {
		return errors.Wrapf(ErrStructure, "bone %q added twice", bone.Name)
	}
	parent := -1
	if bone.Parent != "" {
		p, ok := s.index[bone.Parent]
		if !ok {
			return errors.Wrapf(ErrStructure, "bone %q added before parent %q", bone.Name, bone.Parent)
		}
		parent = p
	}
	s.index[bone.Name] = len(s.bones)
	s.bones = append(s.bones, pendingBone{bone: bone, parent: parent, pose: pose})
	return nil
}

func (g *GltfBuilder) AbortSkeleton() {
	g.skel = nil
}

// EndSkeleton commits the pending bones as joint nodes and a skin. A skeleton
// already committed under the same name is reused.
func (g *GltfBuilder) EndSkeleton() error {
	s := g.skel
	g.skel = nil
	if s == nil {
		return errors.New("no open skeleton")
	}
	if built, ok := g.skins[s.name]; ok {
		g.skin = built
		return nil
	}
	if len(s.bones) == 0 {
		return errors.Wrapf(ErrStructure, "skeleton %s has no bones", s.name)
	}
	doc := g.Doc
	base := uint32(len(doc.Nodes))
	world := make([]mgl32.Mat4, len(s.bones))
	joints := make([]uint32, len(s.bones))
	ibm := bytes.NewBuffer(nil)
	var root *uint32
	for i, pb := range s.bones {
		p := pb.pose
		node := &gltf.Node{
			Name:        pb.bone.Name,
			Translation: [3]float32{p.Location[0], p.Location[1], p.Location[2]},
			Rotation:    [4]float32{p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W},
			Scale:       [3]float32{p.Scale[0], p.Scale[1], p.Scale[2]},
		}
		doc.Nodes = append(doc.Nodes, node)
		joints[i] = base + uint32(i)
		world[i] = p.Mat4()
		if pb.parent >= 0 {
			world[i] = world[pb.parent].Mul4(world[i])
			parent := doc.Nodes[base+uint32(pb.parent)]
			parent.Children = append(parent.Children, joints[i])
		} else {
			doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, joints[i])
			if root == nil {
				root = gltf.Index(joints[i])
			}
		}
		inv := world[i].Inv()
		if err := binary.Write(ibm, binary.LittleEndian, [16]float32(inv)); err != nil {
			return errors.Wrap(err, "inverse bind matrices")
		}
	}
	view := appendBufferView(doc, ibm.Bytes())
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(view),
		ComponentType: gltf.ComponentFloat,
		Type:          gltf.AccessorMat4,
		Count:         uint32(len(s.bones)),
	})
	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                s.name,
		Joints:              joints,
		Skeleton:            root,
		InverseBindMatrices: gltf.Index(uint32(len(doc.Accessors) - 1)),
	})
	built := &builtSkin{skin: uint32(len(doc.Skins) - 1), joints: s.index}
	g.skins[s.name] = built
	g.skin = built
	return nil
}

// ObjectToGltf builds obj into a fresh document.
func ObjectToGltf(obj *Object, opts BuildOptions, embedTextures bool, log *Logger) (*gltf.Document, *BuildReport, error) {
	g := NewGltfBuilder(log)
	g.EmbedTextures = embedTextures
	report, err := BuildObject(g, obj, opts)
	if err != nil {
		return nil, report, err
	}
	return g.Doc, report, nil
}

func CollectionToGltf(col *Collection, opts BuildOptions, embedTextures bool, log *Logger) (*gltf.Document, *BuildReport, error) {
	g := NewGltfBuilder(log)
	g.EmbedTextures = embedTextures
	report, err := BuildCollection(g, col, opts)
	if err != nil {
		return nil, report, err
	}
	return g.Doc, report, nil
}

// MeshToGltf builds the chunks of a standalone .mesh, rigged to skel when it is not nil.
func MeshToGltf(name string, mesh *Mesh, skel *ResolvedSkeleton, opts BuildOptions, log *Logger) (*gltf.Document, *BuildReport, error) {
	obj := &Object{Skeleton: skel, Meshes: []*ImportedMesh{{LOD: LOD_HIGH, Path: name, Mesh: mesh}}}
	if skel != nil {
		obj.Meshes[0].Groups = Rig(mesh, skel.Skeleton, log)
	}
	g := NewGltfBuilder(log)
	report, err := BuildObject(g, obj, opts)
	if err != nil {
		return nil, report, err
	}
	return g.Doc, report, nil
}

func SkeletonToGltf(name string, skel *Skeleton, log *Logger) (*gltf.Document, error) {
	g := NewGltfBuilder(log)
	if err := BuildSkeleton(g, name, skel); err != nil {
		return nil, err
	}
	return g.Doc, nil
}

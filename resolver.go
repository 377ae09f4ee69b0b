package openformats

import (
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// ResolvedSkeleton pairs a parsed skeleton with the path it was loaded from.
type ResolvedSkeleton struct {
	Path     string
	Skeleton *Skeleton
}

// ImportedMesh is one LOD mesh of an ODR. Groups maps the bone indices used by
// its vertices to the names of the rigging skeleton's bones.
type ImportedMesh struct {
	LOD    LOD
	Path   string
	Mesh   *Mesh
	Groups map[int]string
}

// Object is the result of applying one ODR document.
type Object struct {
	ODR      *ODRDocument
	Skeleton *ResolvedSkeleton
	Meshes   []*ImportedMesh
	Failures []error
}

// Collection is the result of applying one ODD document.
type Collection struct {
	ODD      *ODDDocument
	Override *ResolvedSkeleton
	Objects  []*Object
	Failures []error
}

type Importer struct {
	Log     *Logger
	Options ReadOptions
	// FirstDeclaredOnly stops the ODD override search at the first ODR that
	// declares a skeleton, even when that skeleton fails to load.
	FirstDeclaredOnly bool
}

func NewImporter(log *Logger) *Importer {
	return &Importer{Log: log, Options: ReadOptions{Log: log}}
}

func (im *Importer) LoadSkeleton(path string) (*ResolvedSkeleton, error) {
	skel, err := SkeletonReadFrom(path, &im.Options)
	if err != nil {
		return nil, &ReferenceError{Path: path, Kind: "skeleton", Err: err}
	}
	return &ResolvedSkeleton{Path: path, Skeleton: skel}, nil
}

func (im *Importer) ImportODR(path string, override *ResolvedSkeleton) (*Object, error) {
	doc, err := ODRReadFrom(path, &im.Options)
	if err != nil {
		return nil, err
	}
	return im.ApplyODR(doc, override), nil
}

// ApplyODR imports every mesh of doc and rigs them to the effective skeleton:
// the document's own skeleton when it declares one, otherwise override.
// A sub-file that cannot be loaded is recorded in Failures and skipped.
func (im *Importer) ApplyODR(doc *ODRDocument, override *ResolvedSkeleton) *Object {
	obj := &Object{ODR: doc, Skeleton: override}

	if doc.HasSkeleton() {
		if override != nil && samePath(override.Path, doc.SkeletonPath) {
			obj.Skeleton = override
		} else if own, err := im.LoadSkeleton(doc.SkeletonPath); err != nil {
			im.Log.Printf("odr %s: %v", doc.Path, err)
			obj.Failures = append(obj.Failures, err)
		} else {
			obj.Skeleton = own
		}
	}

	for i, path := range doc.LODs {
		if path == "" {
			continue
		}
		mesh, err := MeshReadFrom(path, &im.Options)
		if err != nil {
			ref := &ReferenceError{Path: path, Kind: "mesh", Err: err}
			im.Log.Printf("odr %s: %v", doc.Path, ref)
			obj.Failures = append(obj.Failures, ref)
			continue
		}
		for _, f := range mesh.Failures {
			obj.Failures = append(obj.Failures, errors.Wrapf(f, "mesh %s", path))
		}
		obj.Meshes = append(obj.Meshes, &ImportedMesh{LOD: LOD(i), Path: path, Mesh: mesh})
	}

	if obj.Skeleton != nil {
		for _, m := range obj.Meshes {
			m.Groups = Rig(m.Mesh, obj.Skeleton.Skeleton, im.Log)
		}
	}
	return obj
}

func (im *Importer) ImportODD(path string) (*Collection, error) {
	doc, err := ODDReadFrom(path, &im.Options)
	if err != nil {
		return nil, err
	}
	return im.ApplyODD(doc), nil
}

// ApplyODD imports every ODR of doc. The first ODR in file order that declares
// a loadable skeleton provides the override for all of them.
func (im *Importer) ApplyODD(doc *ODDDocument) *Collection {
	col := &Collection{ODD: doc}

	var odrs []*ODRDocument
	for _, path := range doc.ODRs {
		odr, err := ODRReadFrom(path, &im.Options)
		if err != nil {
			ref := &ReferenceError{Path: path, Kind: "odr", Err: err}
			im.Log.Printf("odd %s: %v", doc.Path, ref)
			col.Failures = append(col.Failures, ref)
			continue
		}
		odrs = append(odrs, odr)
	}

	for _, odr := range odrs {
		if !odr.HasSkeleton() {
			continue
		}
		override, err := im.LoadSkeleton(odr.SkeletonPath)
		if err != nil {
			im.Log.Printf("odd %s: %v", doc.Path, err)
			col.Failures = append(col.Failures, err)
			if im.FirstDeclaredOnly {
				break
			}
			continue
		}
		col.Override = override
		break
	}

	for _, odr := range odrs {
		col.Objects = append(col.Objects, im.ApplyODR(odr, col.Override))
	}
	return col
}

// Rig maps each bone index used by mesh to the bone at the same position of
// skel. Indices beyond the skeleton keep their numeric name.
func Rig(mesh *Mesh, skel *Skeleton, log *Logger) map[int]string {
	groups := make(map[int]string)
	for _, c := range mesh.Chunks {
		for i := range c.Vertices {
			v := &c.Vertices[i]
			for j := 0; j < INFLUENCES; j++ {
				if v.Weights[j] <= 0 {
					continue
				}
				idx := v.BoneIndices[j]
				if _, ok := groups[idx]; ok {
					continue
				}
				if idx >= 0 && idx < skel.Len() {
					groups[idx] = skel.Bones[idx].Name
				} else {
					log.Printf("rig: bone index %d outside skeleton of %d bones", idx, skel.Len())
					groups[idx] = strconv.Itoa(idx)
				}
			}
		}
	}
	return groups
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

package openformats

import (
	"github.com/pkg/errors"
)

// VertexField identifies one "/"-separated group of a vertex line.
type VertexField int

const (
	FIELD_POSITION VertexField = iota
	FIELD_WEIGHTS
	FIELD_BONE_INDICES
	FIELD_NORMAL
	FIELD_COLOR
	FIELD_COLOR2
	FIELD_UV
	FIELD_UV2
	FIELD_TANGENT
)

var fieldWidths = map[VertexField]int{
	FIELD_POSITION:     3,
	FIELD_WEIGHTS:      4,
	FIELD_BONE_INDICES: 4,
	FIELD_NORMAL:       3,
	FIELD_COLOR:        4,
	FIELD_COLOR2:       4,
	FIELD_UV:           2,
	FIELD_UV2:          2,
	FIELD_TANGENT:      4,
}

// VertexDeclaration selects the field layout a chunk is written with.
type VertexDeclaration int

const (
	HighOpaque VertexDeclaration = iota
	HighAlpha
	Low
)

var declarationNames = map[VertexDeclaration]string{
	HighOpaque: "SBED48839",
	HighAlpha:  "S12D0183F",
	Low:        "SD7D22350",
}

var baseFields = []VertexField{
	FIELD_POSITION, FIELD_WEIGHTS, FIELD_BONE_INDICES, FIELD_NORMAL, FIELD_COLOR, FIELD_COLOR2, FIELD_UV,
}

// declarationFields is the write-side layout table.
var declarationFields = map[VertexDeclaration][]VertexField{
	HighOpaque: append(append([]VertexField{}, baseFields...), FIELD_UV2, FIELD_TANGENT),
	HighAlpha:  append(append([]VertexField{}, baseFields...), FIELD_TANGENT),
	Low:        append([]VertexField{}, baseFields...),
}

func (d VertexDeclaration) String() string {
	if n, ok := declarationNames[d]; ok {
		return n
	}
	return "Unknown"
}

func (d VertexDeclaration) Fields() []VertexField {
	return declarationFields[d]
}

func (d VertexDeclaration) Has(f VertexField) bool {
	for _, x := range declarationFields[d] {
		if x == f {
			return true
		}
	}
	return false
}

// ParseVertexDeclaration accepts either the file name of a declaration or its variant name.
func ParseVertexDeclaration(s string) (VertexDeclaration, error) {
	for d, n := range declarationNames {
		if n == s {
			return d, nil
		}
	}
	switch s {
	case "HighOpaque", "high_opaque":
		return HighOpaque, nil
	case "HighAlpha", "high_alpha":
		return HighAlpha, nil
	case "Low", "low":
		return Low, nil
	}
	return 0, errors.Errorf("unknown vertex declaration %q", s)
}

// vertexLayout is what a vertex line turned out to contain.
type vertexLayout struct {
	fields []VertexField
}

func (l vertexLayout) has(f VertexField) bool {
	for _, x := range l.fields {
		if x == f {
			return true
		}
	}
	return false
}

// detectVertexLayout infers the fields of a vertex line from its groups. It
// never looks at the declared name.
func detectVertexLayout(groups [][]string) (vertexLayout, error) {
	n := len(groups)
	fields := append([]VertexField{}, baseFields...)
	switch {
	case n < len(baseFields):
		return vertexLayout{}, errors.Wrapf(ErrStructure, "vertex has %d fields, need at least %d", n, len(baseFields))
	case n == len(baseFields):
	case n == len(baseFields)+1:
		if len(groups[n-1]) == fieldWidths[FIELD_UV2] {
			fields = append(fields, FIELD_UV2)
		} else {
			fields = append(fields, FIELD_TANGENT)
		}
	default:
		fields = append(fields, FIELD_UV2, FIELD_TANGENT)
	}
	return vertexLayout{fields: fields}, nil
}

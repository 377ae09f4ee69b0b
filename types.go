package openformats

const (
	MESH_EXT = ".mesh"
	SKEL_EXT = ".skel"
	ODR_EXT  = ".odr"
	ODD_EXT  = ".odd"
)

// Mesh header values accepted by the reader and emitted by the writer.
const (
	MESH_VERSION_MAJOR = 165
	MESH_VERSION_MINOR = 32
)

const (
	SKEL_VERSION_MAJOR = 107
	SKEL_VERSION_MINOR = 11
)

const (
	MESH_MASK           = 255
	INDICES_PER_LINE    = 15
	WEIGHT_TOTAL        = 255
	INFLUENCES          = 4
	INFLUENCE_PAD_INDEX = 1
	FLOAT_DECIMALS      = 8
)

// LOD is one of the four detail tiers an ODR may reference.
type LOD int

const (
	LOD_HIGH LOD = iota
	LOD_MED
	LOD_LOW
	LOD_VLOW
	LOD_COUNT
)

var lodNames = [LOD_COUNT]string{"High", "Med", "Low", "Vlow"}

func (l LOD) String() string {
	if l < 0 || l >= LOD_COUNT {
		return "Unknown"
	}
	return lodNames[l]
}

func parseLOD(token string) (LOD, bool) {
	for i, n := range lodNames {
		if n == token {
			return LOD(i), true
		}
	}
	return 0, false
}

// isNullRef reports whether a path or sampler token means "unset".
func isNullRef(s string, extra ...string) bool {
	switch s {
	case "", "null", "*NULL*":
		return true
	}
	for _, e := range extra {
		if s == e {
			return true
		}
	}
	return false
}

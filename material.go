package openformats

const DEFAULT_BUMPINESS float32 = 1.0

// ShaderReference is one ".sps" entry of an ODR Shaders section. Shader and
// sampler names are opaque strings.
type ShaderReference struct {
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	DiffuseSampler string     `json:"diffuseSampler,omitempty"`
	BumpSampler    string     `json:"bumpSampler,omitempty"`
	SpecSampler    string     `json:"specSampler,omitempty"`
	Bumpiness      float32    `json:"bumpiness"`
	Params         Properties `json:"params,omitempty"`
}

func NewShaderReference(name string) *ShaderReference {
	return &ShaderReference{Name: name, Type: shaderType(name), Bumpiness: DEFAULT_BUMPINESS, Params: Properties{}}
}

func (s *ShaderReference) HasDiffuse() bool {
	return s.DiffuseSampler != ""
}

func (s *ShaderReference) HasBump() bool {
	return s.BumpSampler != ""
}

func (s *ShaderReference) HasSpec() bool {
	return s.SpecSampler != ""
}

// Samplers lists the set sampler names in diffuse, bump, spec order.
func (s *ShaderReference) Samplers() []string {
	var out []string
	for _, n := range []string{s.DiffuseSampler, s.BumpSampler, s.SpecSampler} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func shaderType(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

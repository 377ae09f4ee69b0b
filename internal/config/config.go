package config

import (
	"os"
	"runtime"

	"github.com/go-playground/validator"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	of "github.com/flywave/go-openformats"
)

// Config holds conversion settings shared by every input of a run.
type Config struct {
	// Export
	Declaration      string `yaml:"declaration" validate:"omitempty,oneof=SBED48839 S12D0183F SD7D22350 HighOpaque HighAlpha Low"`
	StartShaderIndex int    `yaml:"start_shader_index" validate:"gte=0"`
	BoneCount        int    `yaml:"bone_count" validate:"gte=0"`
	SecondUV         string `yaml:"second_uv" validate:"omitempty,oneof=duplicate chunk"`
	Weld             string `yaml:"weld" validate:"omitempty,oneof=none exact position"`

	// Import
	MergeShaders  bool   `yaml:"merge_shaders"`
	Encoding      string `yaml:"encoding"`
	EmbedTextures bool   `yaml:"embed_textures"`

	Workers   int    `yaml:"workers" validate:"gte=0"`
	OutputDir string `yaml:"output_dir"`
}

func Default() Config {
	return Config{
		Declaration:   of.HighOpaque.String(),
		SecondUV:      of.SecondUVDuplicate.String(),
		Weld:          of.WeldNone.String(),
		EmbedTextures: true,
		Workers:       runtime.NumCPU(),
	}
}

// Load reads a YAML config file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
// Negative numbers and empty strings mean "not set".
type Flags struct {
	Declaration  string
	ShaderOffset int
	Workers      int
	OutputDir    string
}

// Resolve applies flags and fills unset fields with defaults.
func (c *Config) Resolve(flags Flags) {
	if flags.Declaration != "" {
		c.Declaration = flags.Declaration
	}
	if flags.ShaderOffset >= 0 {
		c.StartShaderIndex = flags.ShaderOffset
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.OutputDir != "" {
		c.OutputDir = flags.OutputDir
	}

	if c.Declaration == "" {
		c.Declaration = of.HighOpaque.String()
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := of.LookupEncoding(c.Encoding); err != nil {
		return err
	}
	return nil
}

// WriteOptions converts the export settings.
func (c *Config) WriteOptions() (of.WriteOptions, error) {
	decl, err := of.ParseVertexDeclaration(c.Declaration)
	if err != nil {
		return of.WriteOptions{}, err
	}
	uv, err := of.ParseSecondUVPolicy(c.SecondUV)
	if err != nil {
		return of.WriteOptions{}, err
	}
	return of.WriteOptions{
		Declaration:      decl,
		StartShaderIndex: c.StartShaderIndex,
		BoneCount:        c.BoneCount,
		SecondUV:         uv,
	}, nil
}

func (c *Config) WeldPolicy() (of.WeldPolicy, error) {
	return of.ParseWeldPolicy(c.Weld)
}

// ReadOptions builds reader options with log attached.
func (c *Config) ReadOptions(log *of.Logger) (of.ReadOptions, error) {
	enc, err := of.LookupEncoding(c.Encoding)
	if err != nil {
		return of.ReadOptions{}, err
	}
	return of.ReadOptions{Log: log, Encoding: enc}, nil
}

func (c *Config) BuildOptions() of.BuildOptions {
	return of.BuildOptions{MergeShaders: c.MergeShaders}
}

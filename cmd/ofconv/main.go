package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/qmuntal/gltf"

	of "github.com/flywave/go-openformats"
	"github.com/flywave/go-openformats/internal/batch"
	"github.com/flywave/go-openformats/internal/config"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisableCapacities:       true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

type converter struct {
	cfg   config.Config
	log   *of.Logger
	read  of.ReadOptions
	write of.WriteOptions
	weld  of.WeldPolicy
	dump  bool
	skel  bool
	// first limits the ODD override to the first skeleton-declaring ODR.
	first bool
}

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	outputDir := flag.String("out", "", "Output directory (default: next to each input)")
	decl := flag.String("decl", "", "Vertex declaration for exported meshes")
	shaderOffset := flag.Int("shader-offset", -1, "First ShaderIndex of exported meshes")
	workers := flag.Int("workers", 0, "Number of worker goroutines (default: NumCPU)")
	dump := flag.Bool("dump", false, "Write a .dump.txt of every parsed input")
	skel := flag.Bool("skel", false, "Re-emit .skel inputs as normalized .skel instead of .glb")
	quiet := flag.Bool("quiet", false, "Suppress diagnostics")
	encodings := flag.Bool("encodings", false, "List the accepted input encodings and exit")
	strictSkel := flag.Bool("strict-skeleton", false, "Only the first ODR declaring a skeleton can provide the ODD override")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: ofconv [flags] <file.mesh|.skel|.odr|.odd|.glb|.gltf>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *encodings {
		for _, name := range of.ListEncodings() {
			fmt.Println(name)
		}
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Resolve(config.Flags{
		Declaration:  *decl,
		ShaderOffset: *shaderOffset,
		Workers:      *workers,
		OutputDir:    *outputDir,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var log *of.Logger
	if !*quiet {
		log = of.NewLogger(os.Stderr)
	}
	c, err := newConverter(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c.dump = *dump
	c.skel = *skel
	c.first = *strictSkel

	start := time.Now()
	results := batch.Run(cfg.Workers, flag.Args(), c.convert)

	success := 0
	for _, r := range results {
		if r.Success {
			success++
			fmt.Printf("%s -> %s\n", r.Name, r.Output)
		}
		if r.Skipped > 0 {
			fmt.Printf("  %d degenerate faces skipped\n", r.Skipped)
		}
		for _, n := range r.Notes {
			fmt.Printf("  %s\n", n)
		}
	}
	failed := batch.Failed(results)
	for _, r := range failed {
		fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, r.Error)
	}
	fmt.Printf("Converted %d/%d in %.1fs\n", success, len(results), time.Since(start).Seconds())
	if len(failed) > 0 {
		os.Exit(1)
	}
}

func newConverter(cfg config.Config, log *of.Logger) (*converter, error) {
	c := &converter{cfg: cfg, log: log}
	var err error
	if c.read, err = cfg.ReadOptions(log); err != nil {
		return nil, err
	}
	if c.write, err = cfg.WriteOptions(); err != nil {
		return nil, err
	}
	if c.weld, err = cfg.WeldPolicy(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *converter) output(input, ext string) (string, error) {
	dir := c.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(input)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+ext), nil
}

func (c *converter) dumpValue(input string, v interface{}) error {
	if !c.dump {
		return nil
	}
	path, err := c.output(input, ".dump.txt")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dumper.Fdump(f, v)
	return nil
}

func (c *converter) convert(input string) batch.Result {
	r := batch.Result{Name: input}
	var err error
	switch strings.ToLower(filepath.Ext(input)) {
	case of.MESH_EXT:
		err = c.convertMesh(input, &r)
	case of.SKEL_EXT:
		err = c.convertSkeleton(input, &r)
	case of.ODR_EXT:
		err = c.convertODR(input, &r)
	case of.ODD_EXT:
		err = c.convertODD(input, &r)
	case ".glb", ".gltf":
		err = c.exportMesh(input, &r)
	default:
		err = fmt.Errorf("unsupported file type %q", filepath.Ext(input))
	}
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Success = true
	return r
}

func notes(r *batch.Result, failures []error) {
	for _, f := range failures {
		r.Notes = append(r.Notes, f.Error())
	}
}

func (c *converter) convertMesh(input string, r *batch.Result) error {
	mesh, err := of.MeshReadFrom(input, &c.read)
	if err != nil {
		return err
	}
	notes(r, mesh.Failures)
	if err := c.dumpValue(input, mesh); err != nil {
		return err
	}
	doc, report, err := of.MeshToGltf(input, mesh, nil, c.cfg.BuildOptions(), c.log)
	if err != nil {
		return err
	}
	r.Skipped = report.TotalSkipped()
	return c.saveGltf(input, doc, r)
}

func (c *converter) convertSkeleton(input string, r *batch.Result) error {
	skel, err := of.SkeletonReadFrom(input, &c.read)
	if err != nil {
		return err
	}
	if err := c.dumpValue(input, skel); err != nil {
		return err
	}
	if c.skel {
		out, err := c.output(input, ".out"+of.SKEL_EXT)
		if err != nil {
			return err
		}
		r.Output = out
		return of.SkeletonWriteTo(out, skel)
	}
	doc, err := of.SkeletonToGltf(filepath.Base(input), skel, c.log)
	if err != nil {
		return err
	}
	return c.saveGltf(input, doc, r)
}

func (c *converter) convertODR(input string, r *batch.Result) error {
	im := &of.Importer{Log: c.log, Options: c.read}
	obj, err := im.ImportODR(input, nil)
	if err != nil {
		return err
	}
	notes(r, obj.Failures)
	if err := c.dumpValue(input, obj); err != nil {
		return err
	}
	doc, report, err := of.ObjectToGltf(obj, c.cfg.BuildOptions(), c.cfg.EmbedTextures, c.log)
	if err != nil {
		return err
	}
	r.Skipped = report.TotalSkipped()
	return c.saveGltf(input, doc, r)
}

func (c *converter) convertODD(input string, r *batch.Result) error {
	im := &of.Importer{Log: c.log, Options: c.read, FirstDeclaredOnly: c.first}
	col, err := im.ImportODD(input)
	if err != nil {
		return err
	}
	notes(r, col.Failures)
	for _, obj := range col.Objects {
		notes(r, obj.Failures)
	}
	if col.Override != nil {
		r.Notes = append(r.Notes, "shared skeleton "+col.Override.Path)
	}
	if err := c.dumpValue(input, col); err != nil {
		return err
	}
	doc, report, err := of.CollectionToGltf(col, c.cfg.BuildOptions(), c.cfg.EmbedTextures, c.log)
	if err != nil {
		return err
	}
	r.Skipped = report.TotalSkipped()
	return c.saveGltf(input, doc, r)
}

func (c *converter) exportMesh(input string, r *batch.Result) error {
	chunks, err := of.GltfFileToChunks(input, c.log)
	if err != nil {
		return err
	}
	if c.cfg.MergeShaders {
		chunks = of.MergeByShader(chunks)
	}
	for _, chunk := range chunks {
		r.Skipped += of.Weld(chunk, c.weld)
	}
	if err := c.dumpValue(input, chunks); err != nil {
		return err
	}
	out, err := c.output(input, of.MESH_EXT)
	if err != nil {
		return err
	}
	r.Output = out
	return of.MeshWriteTo(out, chunks, c.write)
}

func (c *converter) saveGltf(input string, doc *gltf.Document, r *batch.Result) error {
	out, err := c.output(input, ".glb")
	if err != nil {
		return err
	}
	r.Output = out
	return of.SaveGltf(doc, out, true)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/menta2k/wallcrop"
	"github.com/menta2k/wallcrop/internal/config"
	"github.com/menta2k/wallcrop/internal/logging"
	"github.com/menta2k/wallcrop/internal/metrics"
	"github.com/menta2k/wallcrop/internal/utils"
	"github.com/menta2k/wallcrop/pkg/cropper"
	"github.com/menta2k/wallcrop/pkg/geometry"
	"github.com/menta2k/wallcrop/pkg/pipeline"
	"github.com/menta2k/wallcrop/pkg/store"
)

const (
	addCmd        = "add"
	resolutionCmd = "resolution"
	cropCmd       = "crop"
	detectCmd     = "detect"
	exportCmd     = "export"
	listCmd       = "list"
	setCmd        = "set"
)

var commands = []string{addCmd, resolutionCmd, cropCmd, detectCmd, exportCmd, listCmd, setCmd}

// globalFlags are accepted by every sub-command
type globalFlags struct {
	configPath string
	logLevel   string
}

func newFlagSet(name string, g *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&g.configPath, "config", config.GetConfigPath(), "configuration file (.toml or .json)")
	fs.StringVar(&g.logLevel, "loglvl", "", "set logging level: 'debug', 'info', 'error' (default from config)")
	return fs
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "wallcrop: one of the following commands expected: %v\n", commands)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	cmdName, args := os.Args[1], os.Args[2:]
	switch cmdName {
	case addCmd:
		err = runAdd(ctx, args)
	case resolutionCmd:
		err = runResolution(args)
	case cropCmd:
		err = runCrop(args, os.Stdout)
	case detectCmd:
		err = runDetect(ctx, args)
	case exportCmd:
		err = runExport(ctx, args)
	case listCmd:
		err = runList(args)
	case setCmd:
		err = runSet(ctx, args)
	case "version", "-version", "--version":
		fmt.Println(wallcrop.GetVersion())
	default:
		err = fmt.Errorf("unknown command %q, expected one of %v", cmdName, commands)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "wallcrop: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger
func setup(g *globalFlags) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration %s: %w", g.configPath, err)
	}

	lvlName := cfg.Log.Level
	if g.logLevel != "" {
		lvlName = g.logLevel
	}
	lvl, err := logging.ParseLevel(lvlName)
	if err != nil {
		return nil, nil, err
	}

	opts := []logging.Option{logging.WithLevel(lvl)}
	if cfg.Log.File != "" {
		opts = append(opts, logging.WithFile(logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}))
	}
	return cfg, logging.New(opts...), nil
}

func runAdd(ctx context.Context, args []string) error {
	var (
		g           globalFlags
		force       bool
		export      bool
		workers     int
		metricsAddr string
		minWidth    int
		minHeight   int
	)
	fs := newFlagSet(addCmd, &g)
	fs.BoolVar(&force, "force", false, "detect faces again for images already in the library")
	fs.BoolVar(&export, "export", false, "write the cropped images to the output directory")
	fs.IntVar(&workers, "workers", 0, "number of images processed in parallel (default from config)")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	fs.IntVar(&minWidth, "min-width", 0, "minimum wallpaper width (default from config)")
	fs.IntVar(&minHeight, "min-height", 0, "minimum wallpaper height (default from config)")
	fs.Parse(args)

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	if workers > 0 {
		cfg.Workers = workers
	}
	if minWidth > 0 {
		cfg.Library.MinWidth = minWidth
	}
	if minHeight > 0 {
		cfg.Library.MinHeight = minHeight
	}
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = []string{cfg.Library.WallpapersDir}
	}
	paths, err := utils.CollectImages(inputs)
	if err != nil {
		return err
	}

	m := metrics.New()
	if metricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, metricsAddr); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	lib, err := wallcrop.Open(cfg, pipeline.WithLogger(logger), pipeline.WithMetrics(m))
	if err != nil {
		return err
	}

	if csvStore, ok := lib.Store().(*store.CSVStore); ok {
		p := lib.Pipeline()
		if n := csvStore.Prune(func(name string) bool { return utils.FileExists(p.Path(name)) }); n > 0 {
			logger.Infof("dropped %d missing wallpapers from the library", n)
		}
	}

	if len(paths) == 0 {
		if err := lib.Store().Save(); err != nil {
			return err
		}
		return errors.New("no images found in input paths")
	}

	res, err := lib.Pipeline().Run(ctx, paths, pipeline.Options{Force: force, Export: export})
	if err != nil {
		return err
	}

	for _, u := range res.Upscale {
		fmt.Printf("%s is %dx%d and needs a %dx upscale\n", u.Filename, u.Width, u.Height, u.Scale)
	}
	if len(res.ToReview) > 0 {
		fmt.Println("Review the crops of:")
		for _, name := range res.ToReview {
			fmt.Println(lib.Pipeline().Path(name))
		}
	}
	return res.Err()
}

func runResolution(args []string) error {
	var g globalFlags
	fs := newFlagSet(resolutionCmd, &g)
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("usage: wallcrop %s <name> <width>x<height>", resolutionCmd)
	}
	ratio, err := geometry.ParseAspectRatio(fs.Arg(1))
	if err != nil {
		return err
	}

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	lib, err := wallcrop.Open(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	review, err := lib.AddResolution(geometry.Resolution{Name: fs.Arg(0), Ratio: ratio})
	if err != nil {
		return err
	}
	if err := cfg.SaveToFile(g.configPath); err != nil {
		return err
	}
	logger.Infof("added resolution %s=%s", fs.Arg(0), ratio)

	for _, name := range review {
		fmt.Println(lib.Pipeline().Path(name))
	}
	return nil
}

func runCrop(args []string, out io.Writer) error {
	var (
		width, height int
		facesJSON     string
		ratioStr      string
		candidates    bool
	)
	fs := flag.NewFlagSet(cropCmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&width, "width", 0, "image width")
	fs.IntVar(&height, "height", 0, "image height")
	fs.StringVar(&facesJSON, "faces", "[]", `faces as JSON, e.g. [{"xmin":1,"xmax":5,"ymin":1,"ymax":5}]`)
	fs.StringVar(&ratioStr, "ratio", "", "target aspect ratio <width>x<height>")
	fs.BoolVar(&candidates, "candidates", false, "print the candidate crops instead of the best one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ratio, err := geometry.ParseAspectRatio(ratioStr)
	if err != nil {
		return err
	}
	faces, err := geometry.ParseFaces([]byte(facesJSON))
	if err != nil {
		return err
	}
	c, err := cropper.New(width, height, faces)
	if err != nil {
		return err
	}
	if err := c.Check(ratio); err != nil {
		return err
	}

	if !candidates {
		fmt.Fprintln(out, c.Crop(ratio))
		return nil
	}
	for _, g := range c.CropCandidates(ratio) {
		fmt.Fprintln(out, g)
	}
	return nil
}

func runDetect(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet(detectCmd, &g)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: wallcrop %s <image>", detectCmd)
	}

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	detector, err := wallcrop.NewDetector(cfg.Detector)
	if err != nil {
		return err
	}
	lib := wallcrop.New(cfg, detector, store.NewCSVStore(cfg.Library.CSVPath), pipeline.WithLogger(logger))

	info, faces, err := lib.DetectFaces(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	logger.Infof("%s: %dx%d, %d faces", info.Path, info.Width, info.Height, len(faces))

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(faces)
}

func runExport(ctx context.Context, args []string) error {
	var (
		g      globalFlags
		outDir string
		format string
		debug  bool
	)
	fs := newFlagSet(exportCmd, &g)
	fs.StringVar(&outDir, "out", "", "output directory (default from config)")
	fs.StringVar(&format, "format", "", "output format: jpg|png|webp (default from config)")
	fs.BoolVar(&debug, "debug", false, "also write debug overlays")
	fs.Parse(args)

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	if outDir != "" {
		cfg.Output.Dir = utils.FullPath(outDir)
	}
	if format != "" {
		cfg.Output.Format = format
	}
	cfg.Output.Debug = cfg.Output.Debug || debug
	if err := cfg.Validate(); err != nil {
		return err
	}

	lib, err := wallcrop.Open(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	keys := lib.Store().Filenames()
	if fs.NArg() > 0 {
		keys = keys[:0]
		for _, path := range fs.Args() {
			keys = append(keys, lib.Pipeline().Key(utils.FullPath(path)))
		}
	}

	written, err := lib.Pipeline().Export(ctx, keys)
	for _, f := range written {
		fmt.Println(f)
	}
	return err
}

func runList(args []string) error {
	var (
		g          globalFlags
		faces      string
		modified   bool
		unmodified bool
	)
	fs := newFlagSet(listCmd, &g)
	fs.StringVar(&faces, "faces", "all", "filter by number of faces: all, zero, one, many")
	fs.BoolVar(&modified, "modified", false, "only images with hand adjusted crops")
	fs.BoolVar(&unmodified, "unmodified", false, "only images that use the computed crops")
	fs.Parse(args)

	filter, err := wallcrop.ParseFaceFilter(faces)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	st, err := store.OpenCSVStore(cfg.Library.CSVPath)
	if err != nil {
		return err
	}
	lib := wallcrop.New(cfg, nil, st, pipeline.WithLogger(logger))

	names, err := lib.List(wallcrop.Filter{Faces: filter, Modified: modified, Unmodified: unmodified})
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(lib.Pipeline().Path(name))
	}
	return nil
}

func runSet(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet(setCmd, &g)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: wallcrop %s <image>", setCmd)
	}

	cfg, logger, err := setup(&g)
	if err != nil {
		return err
	}
	defer logger.Close()

	lib := wallcrop.New(cfg, nil, store.NewCSVStore(cfg.Library.CSVPath), pipeline.WithLogger(logger))
	path := utils.FullPath(fs.Arg(0))
	if err := lib.SetWallpaper(ctx, path); err != nil {
		return err
	}
	logger.Infof("wallpaper set to %s", path)
	return nil
}

// Package pipeline adds wallpapers to the library: it probes each image,
// detects faces, computes a crop per configured resolution and stores the
// result, optionally exporting the cropped images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/wallcrop/internal/config"
	"github.com/menta2k/wallcrop/internal/logging"
	"github.com/menta2k/wallcrop/internal/metrics"
	"github.com/menta2k/wallcrop/internal/utils"
	"github.com/menta2k/wallcrop/pkg/analyzer"
	"github.com/menta2k/wallcrop/pkg/cropper"
	"github.com/menta2k/wallcrop/pkg/detection"
	"github.com/menta2k/wallcrop/pkg/geometry"
	"github.com/menta2k/wallcrop/pkg/processing"
	"github.com/menta2k/wallcrop/pkg/store"
)

// Options tune a single Run
type Options struct {
	// Force re-detects images that are already stored
	Force bool
	// Export writes the cropped images to the output directory
	Export bool
}

// Upscale describes an image below the minimum size
type Upscale struct {
	Filename string
	Width    int
	Height   int
	Scale    int
}

// Result summarizes a Run. All filename lists are in natural order.
type Result struct {
	Cropped  []string
	Skipped  []string
	ToReview []string
	Upscale  []Upscale
	Exported []string
	Failed   map[string]error

	mu sync.Mutex
}

func newResult() *Result {
	return &Result{Failed: map[string]error{}}
}

func (r *Result) add(list *[]string, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, name)
}

func (r *Result) fail(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed[name] = err
}

func (r *Result) upscale(u Upscale) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Upscale = append(r.Upscale, u)
}

func (r *Result) finish() {
	for _, list := range [][]string{r.Cropped, r.Skipped, r.ToReview, r.Exported} {
		utils.SortNatural(list)
	}
	sort.Slice(r.Upscale, func(i, j int) bool {
		return utils.NaturalLess(r.Upscale[i].Filename, r.Upscale[j].Filename)
	})
}

// Err joins the per-image failures, or returns nil when there were none
func (r *Result) Err() error {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	utils.SortNatural(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Failed[name]))
	}
	return errors.Join(errs...)
}

// Pipeline processes wallpapers into the store
type Pipeline struct {
	cfg      *config.Config
	analyzer *analyzer.Analyzer
	detector detection.FaceDetector
	store    store.Store
	proc     *processing.Processor
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

type Option func(p *Pipeline)

// WithLogger sets the logger; the default discards everything
func WithLogger(l *logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithMetrics sets the metrics collectors
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// New creates a pipeline over the given configuration, detector and store
func New(cfg *config.Config, detector detection.FaceDetector, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg: cfg,
		analyzer: analyzer.NewWithConfig(analyzer.Config{
			MinWidth:  cfg.Library.MinWidth,
			MinHeight: cfg.Library.MinHeight,
		}),
		detector: detector,
		store:    st,
		proc:     processing.NewProcessor(),
		logger:   logging.Discard(),
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) workers() int {
	return max(1, p.cfg.Workers)
}

// Key returns the store key of an image: the slash separated path relative
// to the wallpapers directory, or the absolute path for images outside it.
func (p *Pipeline) Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if dir := p.cfg.Library.WallpapersDir; dir != "" {
		if absDir, err := filepath.Abs(dir); err == nil {
			rel, err := filepath.Rel(absDir, abs)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return filepath.ToSlash(rel)
			}
		}
	}
	return abs
}

// Path is the inverse of Key
func (p *Pipeline) Path(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(p.cfg.Library.WallpapersDir, filepath.FromSlash(key))
}

// item is one image moving through the pipeline
type item struct {
	path  string
	key   string
	info  analyzer.ImageInfo
	faces []geometry.Face
	err   error
}

// Run processes the given image paths. Per-image failures are collected in
// the result; the returned error is reserved for cancellation and for
// failures to save the store.
func (p *Pipeline) Run(ctx context.Context, paths []string, opts Options) (*Result, error) {
	res := newResult()

	items, err := p.plan(ctx, paths, opts, res)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		p.logger.Infof("detecting faces in %d images", len(items))
		if items, err = p.detect(ctx, items, res); err != nil {
			return nil, err
		}
		if err := p.crop(ctx, items, opts, res); err != nil {
			return nil, err
		}
	}

	if len(res.Cropped) > 0 {
		if err := p.store.Save(); err != nil {
			return nil, fmt.Errorf("failed to save store: %w", err)
		}
	}

	res.finish()
	p.logger.Infof("cropped %d, skipped %d, failed %d, to review %d",
		len(res.Cropped), len(res.Skipped), len(res.Failed), len(res.ToReview))
	return res, nil
}

// plan probes every image and returns the ones that need face detection
func (p *Pipeline) plan(ctx context.Context, paths []string, opts Options, res *Result) ([]*item, error) {
	planned := make([]*item, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			planned[i] = p.planOne(path, opts, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]*item, 0, len(planned))
	for _, it := range planned {
		if it != nil {
			items = append(items, it)
		}
	}
	return items, nil
}

func (p *Pipeline) planOne(path string, opts Options, res *Result) *item {
	key := p.Key(path)

	info, err := p.analyzer.Probe(path)
	if err != nil {
		p.logger.Errorf("%s: %v", key, err)
		p.metrics.ObserveImage(metrics.ResultFailed)
		res.fail(key, err)
		return nil
	}

	if err := p.analyzer.Validate(info); err != nil {
		scale := p.analyzer.UpscaleFactor(info)
		if scale == 0 {
			p.logger.Errorf("%s is too small to be upscaled", key)
			p.metrics.ObserveImage(metrics.ResultTooSmall)
			res.fail(key, err)
			return nil
		}
		p.logger.Infof("%s needs a %dx upscale", key, scale)
		res.upscale(Upscale{Filename: key, Width: info.Width, Height: info.Height, Scale: scale})
	}

	if rec, ok := p.store.Get(key); ok && !opts.Force {
		if rec.Width == info.Width && rec.Height == info.Height {
			p.skip(key, rec, res)
			return nil
		}
		p.logger.Infof("%s changed from %dx%d to %dx%d, detecting again",
			key, rec.Width, rec.Height, info.Width, info.Height)
	}

	return &item{path: path, key: key, info: info}
}

func (p *Pipeline) skip(key string, rec store.Record, res *Result) {
	p.logger.Debugf("%s already stored", key)
	p.metrics.ObserveImage(metrics.ResultSkipped)
	res.add(&res.Skipped, key)

	if len(rec.Faces) == 1 {
		return
	}
	isDefault, err := rec.IsDefaultCrops(p.cfg.Resolutions)
	if err != nil {
		p.logger.Errorf("%s: %v", key, err)
		return
	}
	if isDefault {
		res.add(&res.ToReview, key)
	}
}

// detect fills in the faces of every item and drops the ones that failed
func (p *Pipeline) detect(ctx context.Context, items []*item, res *Result) ([]*item, error) {
	if batch, ok := p.detector.(detection.BatchDetector); ok && len(items) > 1 {
		if err := p.detectBatch(ctx, batch, items); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for _, it := range items {
			g.Go(func() error {
				start := time.Now()
				it.faces, it.err = p.detector.DetectFaces(gctx, it.path)
				p.metrics.ObserveDetect(time.Since(start))
				if it.err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	ok := items[:0]
	for _, it := range items {
		if it.err != nil {
			p.logger.Errorf("%s: face detection failed: %v", it.key, it.err)
			p.metrics.ObserveImage(metrics.ResultFailed)
			res.fail(it.key, it.err)
			continue
		}
		ok = append(ok, it)
	}
	return ok, nil
}

func (p *Pipeline) detectBatch(ctx context.Context, batch detection.BatchDetector, items []*item) error {
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.path
	}

	start := time.Now()
	all, err := batch.DetectAll(ctx, paths)
	p.metrics.ObserveDetect(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, it := range items {
			it.err = err
		}
		return nil
	}

	for i, it := range items {
		it.faces = all[i]
	}
	return nil
}

// crop computes and stores the crops of every item
func (p *Pipeline) crop(ctx context.Context, items []*item, opts Options, res *Result) error {
	if opts.Export {
		if err := utils.EnsureDir(p.cfg.Output.Dir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, it := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.cropOne(it, opts, res); err != nil {
				p.logger.Errorf("%s: %v", it.key, err)
				p.metrics.ObserveImage(metrics.ResultFailed)
				res.fail(it.key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) cropOne(it *item, opts Options, res *Result) error {
	faces := detection.NormalizeFaces(it.faces, it.info.Width, it.info.Height)
	p.metrics.ObserveFaces(len(faces))

	start := time.Now()
	c, err := cropper.New(it.info.Width, it.info.Height, faces)
	if err != nil {
		return err
	}
	geometries, err := c.CropAll(p.cfg.Resolutions)
	if err != nil {
		return err
	}
	rec := store.Record{
		Filename:   it.key,
		Width:      it.info.Width,
		Height:     it.info.Height,
		Faces:      faces,
		Geometries: geometries,
	}
	p.metrics.ObserveCrop(time.Since(start))

	p.store.Put(rec)
	p.metrics.ObserveImage(metrics.ResultCropped)
	res.add(&res.Cropped, it.key)
	p.logger.Debugf("%s: %d faces", it.key, len(faces))

	// no face or several faces need a look
	if len(faces) != 1 {
		res.add(&res.ToReview, it.key)
	}

	if opts.Export {
		files, err := p.exportRecord(it.path, rec)
		for _, f := range files {
			res.add(&res.Exported, f)
		}
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	}
	return nil
}

// Export writes the crops of stored images to the output directory and
// returns the written files in natural order
func (p *Pipeline) Export(ctx context.Context, keys []string) ([]string, error) {
	if err := utils.EnsureDir(p.cfg.Output.Dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		mu      sync.Mutex
		written []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, ok := p.store.Get(key)
			if !ok {
				return fmt.Errorf("%s: not in the library", key)
			}

			files, err := p.exportRecord(p.Path(key), rec)
			mu.Lock()
			written = append(written, files...)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			return nil
		})
	}

	err := g.Wait()
	utils.SortNatural(written)
	return written, err
}

// exportRecord saves one cropped image per configured resolution, plus a
// debug overlay per resolution when enabled
func (p *Pipeline) exportRecord(path string, rec store.Record) ([]string, error) {
	img, err := p.proc.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() != rec.Width || b.Dy() != rec.Height {
		return nil, fmt.Errorf("image is %dx%d but was stored as %dx%d", b.Dx(), b.Dy(), rec.Width, rec.Height)
	}

	c, err := rec.Cropper()
	if err != nil {
		return nil, err
	}

	out := p.cfg.Output
	var written []string
	for _, res := range p.cfg.SortedResolutions() {
		g, err := rec.Geometry(res)
		if err != nil {
			return written, err
		}

		cropped, err := p.proc.CropToGeometry(img, g, 0, 0)
		if err != nil {
			return written, fmt.Errorf("%s: %w", res.Name, err)
		}

		dst := utils.GenerateOutputFilename(path, out.Dir, res.Name, out.Format)
		if err := p.proc.SaveImage(cropped, dst, out.Format, out.Quality, out.Lossless); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", dst, err)
		}
		written = append(written, dst)

		if !out.Debug && !p.cfg.Library.ShowFaces {
			continue
		}
		var candidates []geometry.Geometry
		if c.Check(res.Ratio) == nil {
			candidates = c.CropCandidates(res.Ratio)
		}
		overlay := p.proc.CreateDebugOverlay(img, rec.Faces, g, candidates)
		dst = utils.GenerateOutputFilename(path, out.Dir, res.Name+"_debug", out.Format)
		if err := p.proc.SaveImage(overlay, dst, out.Format, out.Quality, out.Lossless); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", dst, err)
		}
		written = append(written, dst)
	}

	p.logger.Debugf("exported %d files for %s", len(written), rec.Filename)
	return written, nil
}

// Package batch runs the extraction and fit over a directory of FRAP
// movies, isolating per-file failures.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v2"

	"frapdiff/internal/models"
	"frapdiff/pkg/extraction"
	"frapdiff/pkg/fit"
	"frapdiff/pkg/imagej"
	"frapdiff/pkg/preview"
)

// Output file suffixes, appended to the input path without its extension
const (
	tableSuffix     = "_frap_recovery_proj.txt"
	resultsSuffix   = "_results.json"
	kymographSuffix = "_kymograph"
	correctedSuffix = "_bc"
)

// StackLoader reads an image stack and its calibration
type StackLoader interface {
	LoadStack(path string) (*models.Stack, models.Calibration, error)
}

// ROILoader reads the bleach ROI belonging to a stack
type ROILoader interface {
	LoadROI(path string) (models.Rect, error)
}

// Options controls the batch side effects that are not part of extraction
type Options struct {
	// Workers is the number of files processed concurrently
	Workers int

	// SaveCorrected writes the bleach-corrected stack next to the input
	SaveCorrected bool

	// Progress receives a progress bar when non-nil
	Progress io.Writer

	// Logger receives one event per processed file
	Logger zerolog.Logger
}

// DefaultOptions processes files sequentially without progress output
func DefaultOptions() Options {
	return Options{Workers: 1, Logger: zerolog.Nop()}
}

// Runner processes FRAP movies with a fixed configuration
type Runner struct {
	stacks StackLoader
	rois   ROILoader
	fitter fit.Fitter
	config models.ExtractionConfig
	opts   Options
}

// Success is the record of a processed file
type Success struct {
	Path   string
	Record fit.Result
}

// Failure pairs a file with the error that stopped it
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Report collects the outcome of a batch run in input order
type Report struct {
	RunID     string
	Successes []Success
	Failures  []Failure
}

// Records returns the fit records of all successful files
func (r *Report) Records() []fit.Result {
	records := make([]fit.Result, len(r.Successes))
	for i, s := range r.Successes {
		records[i] = s.Record
	}
	return records
}

// NewRunner validates the configuration before any file is touched, so a
// bad value aborts the batch instead of failing every file.
func NewRunner(stacks StackLoader, rois ROILoader, fitter fit.Fitter, cfg models.ExtractionConfig, opts Options) (*Runner, error) {
	if stacks == nil || rois == nil || fitter == nil {
		return nil, fmt.Errorf("runner needs a stack loader, an ROI loader and a fitter")
	}
	if err := extraction.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		return nil, &models.ConfigurationError{
			Field: "workers",
			Value: fmt.Sprint(opts.Workers),
		}
	}
	return &Runner{
		stacks: stacks,
		rois:   rois,
		fitter: fitter,
		config: cfg,
		opts:   opts,
	}, nil
}

// basePath strips the extension of a stack path
func basePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// ProcessFile runs extraction and fit for one stack and writes its outputs
// next to it. The returned record is the fit result annotated with the
// calibration and extraction scalars.
func (r *Runner) ProcessFile(ctx context.Context, path string) (fit.Result, error) {
	return r.process(ctx, path, "")
}

func (r *Runner) process(ctx context.Context, path, runID string) (fit.Result, error) {
	start := time.Now()
	base := basePath(path)

	stack, cal, err := r.stacks.LoadStack(path)
	if err != nil {
		return nil, err
	}
	roi, err := r.rois.LoadROI(path)
	if err != nil {
		return nil, err
	}

	profile, err := extraction.Extract(stack, roi, cal, r.config)
	if err != nil {
		return nil, err
	}

	tablePath := base + tableSuffix
	if err := extraction.SaveTable(tablePath, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile table: %w", err)
	}

	if r.config.Preview {
		kymo, err := preview.NewKymograph(profile, cal.PixelSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build kymograph: %w", err)
		}
		if err := kymo.Save(base + kymographSuffix + ".tif"); err != nil {
			return nil, fmt.Errorf("failed to save kymograph: %w", err)
		}
	}

	if r.opts.SaveCorrected && r.config.BleachCorrection {
		corrected, err := extraction.CorrectBleaching(stack, r.config.CorrectionWindowSize)
		if err != nil {
			return nil, err
		}
		if err := imagej.WriteStack(base+correctedSuffix+".tif", corrected, cal, &roi); err != nil {
			return nil, fmt.Errorf("failed to save corrected stack: %w", err)
		}
	}

	name := filepath.Base(base)
	record, err := r.fitter.Fit(ctx, tablePath, name, r.config.FitParams(profile, cal))
	if err != nil {
		return nil, fmt.Errorf("fit failed: %w", err)
	}
	if record == nil {
		record = fit.Result{}
	}

	record["file"] = path
	record["frameInterval"] = cal.FrameInterval
	record["pixelSize"] = cal.PixelSize
	record["frameOfFrap"] = profile.BleachFrame
	record["I0"] = profile.I0
	if runID != "" {
		record["runId"] = runID
	}

	if err := writeRecord(base+resultsSuffix, record); err != nil {
		return nil, err
	}

	r.opts.Logger.Info().
		Str("file", path).
		Int("bleach_frame", profile.BleachFrame).
		Float64("I0", profile.I0).
		Dur("duration", time.Since(start)).
		Msg("processed")

	return record, nil
}

func writeRecord(path string, record fit.Result) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// Run processes files with a fixed pool of workers. Each file is isolated:
// its error is recorded and the batch moves on. Once ctx is cancelled no
// further files are started and the remaining ones are reported as failed.
func (r *Runner) Run(ctx context.Context, files []string) *Report {
	report := &Report{RunID: uuid.NewString()}
	logger := r.opts.Logger.With().Str("run_id", report.RunID).Logger()

	type processingResult struct {
		index  int
		record fit.Result
		err    error
	}

	jobs := make(chan int)
	resultChan := make(chan processingResult)

	workers := r.opts.Workers
	if workers > len(files) {
		workers = len(files)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for idx := range jobs {
				record, err := r.process(ctx, files[idx], report.RunID)
				resultChan <- processingResult{index: idx, record: record, err: err}
			}
		}()
	}

	// hand out files until done or cancelled
	go func() {
		defer close(jobs)
		skip := func(from int) {
			for rest := from; rest < len(files); rest++ {
				resultChan <- processingResult{index: rest, err: ctx.Err()}
			}
		}
		for idx := range files {
			if ctx.Err() != nil {
				skip(idx)
				return
			}
			select {
			case jobs <- idx:
			case <-ctx.Done():
				skip(idx)
				return
			}
		}
	}()

	var bar *progressbar.ProgressBar
	if r.opts.Progress != nil && len(files) > 0 {
		bar = progressbar.NewOptions(len(files), progressbar.OptionSetWriter(r.opts.Progress))
	}

	records := make([]fit.Result, len(files))
	errs := make([]error, len(files))
	for completed := 0; completed < len(files); completed++ {
		res := <-resultChan
		records[res.index] = res.record
		errs[res.index] = res.err

		if res.err != nil {
			logger.Error().Err(res.err).Str("file", files[res.index]).Msg("failed to process file")
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	for i, path := range files {
		if errs[i] != nil {
			report.Failures = append(report.Failures, Failure{Path: path, Err: errs[i]})
			continue
		}
		report.Successes = append(report.Successes, Success{Path: path, Record: records[i]})
	}

	logger.Info().
		Int("successes", len(report.Successes)).
		Int("failures", len(report.Failures)).
		Msg("batch finished")

	return report
}

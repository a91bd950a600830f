package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"frapdiff/internal/logger"
	"frapdiff/internal/models"
	"frapdiff/pkg/batch"
	"frapdiff/pkg/config"
	"frapdiff/pkg/fit"
	"frapdiff/pkg/imagej"
	"frapdiff/pkg/store"
)

// Exit codes
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	// .env values never override variables that are already set
	_ = godotenv.Load()

	fs := flag.NewFlagSet("frapdiff", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Parse command line arguments
	inputDir := fs.String("input", "", "Directory containing ImageJ FRAP movies")
	configPath := fs.String("config", "", "YAML configuration file (default: $FRAPDIFF_CONFIG)")
	writeConfig := fs.String("write-config", "", "Write the effective configuration to this file and exit")
	output := fs.String("output", "", "Summary table path")
	recursive := fs.Bool("recursive", true, "Search the input directory recursively")
	bleachCorrection := fs.Bool("bleach-correction", true, "Correct acquisition bleaching against the top-left reference patch")
	correctionSize := fs.Int("correction-size", 150, "Side length of the bleach-correction reference patch in pixels")
	project := fs.String("project", "vertical", "Projection axis: vertical or horizontal")
	extend := fs.Float64("extend", 1.5, "ROI extension factor")
	mirror := fs.String("mirror", "first_half", "Mirroring: first_half, second_half or none")
	dGuess := fs.Float64("D", 0.05, "Initial guess for the diffusion coefficient")
	koffGuess := fs.Float64("koff", 0.1, "Initial guess for koff")
	minLf := fs.Float64("min-lf", 8, "Lower bound of the reservoir width L_f")
	maxLf := fs.Float64("max-lf", 16, "Upper bound of the reservoir width L_f")
	workers := fs.Int("workers", 1, "Number of movies processed concurrently")
	preview := fs.Bool("preview", false, "Write a kymograph preview next to every movie")
	saveCorrected := fs.Bool("save-corrected", false, "Write the bleach-corrected stack next to every movie")
	fitCommand := fs.String("fit-command", "", "External solver executable (default: built-in fitter)")
	dbPath := fs.String("db", "", "SQLite database receiving the run's records")
	progress := fs.Bool("progress", false, "Show a progress bar")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return exitConfiguration
	}

	if *configPath == "" {
		if v, ok := lookup("FRAPDIFF_CONFIG"); ok {
			*configPath = v
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitConfiguration
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		fmt.Fprintf(stderr, "Invalid environment: %v\n", err)
		return exitConfiguration
	}

	// flags given explicitly override the file and the environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Batch.Output = *output
		case "recursive":
			cfg.Batch.Recursive = *recursive
		case "bleach-correction":
			cfg.Extraction.BleachCorrection = *bleachCorrection
		case "correction-size":
			cfg.Extraction.CorrectionWindowSize = *correctionSize
		case "project":
			cfg.Extraction.Projection = *project
		case "extend":
			cfg.Extraction.ROIExtensionFactor = *extend
		case "mirror":
			cfg.Extraction.Mirror = *mirror
		case "D":
			cfg.Fit.DGuess = *dGuess
		case "koff":
			cfg.Fit.KoffGuess = *koffGuess
		case "min-lf":
			cfg.Fit.MinLf = *minLf
		case "max-lf":
			cfg.Fit.MaxLf = *maxLf
		case "workers":
			cfg.Batch.Workers = *workers
		case "preview":
			cfg.Batch.Preview = *preview
		case "save-corrected":
			cfg.Batch.SaveCorrected = *saveCorrected
		case "fit-command":
			cfg.Fit.Command = *fitCommand
		case "db":
			cfg.Batch.Database = *dbPath
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	// Validate before any file is touched
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitCode(err)
	}
	extractionConfig, err := cfg.ExtractionConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitConfiguration
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(stderr, "Failed to write configuration: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "Configuration written to %s\n", *writeConfig)
		return exitOK
	}

	if *inputDir == "" {
		fmt.Fprintln(stderr, "Missing -input directory")
		fs.Usage()
		return exitConfiguration
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	var log zerolog.Logger
	if cfg.Logging.Console {
		log = logger.NewConsole(stderr, level)
	} else {
		log = logger.New(stderr, level)
	}

	var fitter fit.Fitter = fit.NewDiffusion()
	if cfg.Fit.Command != "" {
		fitter = fit.NewCommand(cfg.Fit.Command)
	}

	opts := batch.Options{
		Workers:       cfg.Batch.Workers,
		SaveCorrected: cfg.Batch.SaveCorrected,
		Logger:        log,
	}
	if *progress {
		opts.Progress = stderr
	}

	loader := imagej.Loader{}
	runner, err := batch.NewRunner(loader, loader, fitter, extractionConfig, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitConfiguration
	}

	files, err := batch.Discover(*inputDir, cfg.Batch.Recursive)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitCode(err)
	}

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "FRAP DIFFUSION PROFILE EXTRACTION")
	fmt.Fprintln(stdout, "================================")
	fmt.Fprintf(stdout, "Input directory: %s\n", *inputDir)
	fmt.Fprintf(stdout, "Movies found: %d\n", len(files))
	fmt.Fprintf(stdout, "Projection: %s, mirror: %s, extension: %g\n",
		extractionConfig.ProjectionAxis, extractionConfig.MirrorMode, extractionConfig.ROIExtensionFactor)
	if extractionConfig.BleachCorrection {
		fmt.Fprintf(stdout, "Bleach correction: %dx%d reference patch\n", extractionConfig.CorrectionWindowSize, extractionConfig.CorrectionWindowSize)
	} else {
		fmt.Fprintln(stdout, "Bleach correction: off")
	}

	startTime := time.Now()
	report := runner.Run(ctx, files)
	processingTime := time.Since(startTime)

	fmt.Fprintf(stdout, "\nRun %s completed in %.2f seconds\n", report.RunID, processingTime.Seconds())
	fmt.Fprintf(stdout, "Successes: %d\n", len(report.Successes))
	fmt.Fprintf(stdout, "Failures: %d\n", len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(stdout, "- %s: %v\n", f.Path, f.Err)
	}

	code := exitOK
	if err := batch.SaveSummary(cfg.Batch.Output, report.Records()); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		code = exitFailure
	} else {
		fmt.Fprintf(stdout, "Summary table saved to: %s\n", cfg.Batch.Output)
	}

	if cfg.Batch.Database != "" {
		if err := saveRun(cfg.Batch.Database, report, *inputDir, startTime); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			code = exitFailure
		} else {
			fmt.Fprintf(stdout, "Run stored in: %s\n", cfg.Batch.Database)
		}
	}

	if len(report.Failures) > 0 {
		code = exitFailure
	}
	return code
}

func saveRun(path string, report *batch.Report, inputDir string, startTime time.Time) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.SaveReport(report, inputDir, startTime)
}

// exitCode maps an error onto the process exit code
func exitCode(err error) int {
	var cfgErr *models.ConfigurationError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfiguration
	}
	return exitFailure
}

// Command sweep runs the inversion over a grid of spatial and temporal
// damping factors and writes one result set per pair plus a summary CSV
// for choosing the damping from the trade-off curve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/geomag/internal/config"
	"github.com/banshee-data/geomag/internal/db"
	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/pipeline"
	"github.com/banshee-data/geomag/internal/security"
	"github.com/banshee-data/geomag/internal/sweep"
	"github.com/banshee-data/geomag/internal/version"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	spatialRange := flag.String("spatial-range", "", "Spatial factors: comma-separated values or min:max:step")
	temporalRange := flag.String("temporal-range", "", "Temporal factors: comma-separated values or min:max:step")
	logSteps := flag.Bool("log", false, "Read range steps in decades")
	summary := flag.String("summary", "sweep_summary.csv", "Summary CSV name inside the output directory")
	flag.Parse()

	if flags.Version {
		fmt.Println(version.String("sweep"))
		return
	}

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	spatial, temporal, useLog := cfg.GetSweepSpatial(), cfg.GetSweepTemporal(), cfg.GetSweepLog()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "spatial-range":
			spatial = *spatialRange
		case "temporal-range":
			temporal = *temporalRange
		case "log":
			useLog = *logSteps
		}
	})
	combos, err := sweep.Combos(spatial, temporal, useLog)
	if err != nil {
		log.Fatalf("Invalid parameter list: %v", err)
	}
	log.Printf("Parameter combinations: %d", len(combos))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, combos, *summary); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.InversionConfig, combos []sweep.Combo, summaryName string) error {
	fsys := fsutil.OSFileSystem{}
	outDir := cfg.GetOutputDir()
	if err := fsys.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	summaryPath := filepath.Join(outDir, summaryName)
	if err := security.ValidatePathWithinDirectory(summaryPath, outDir); err != nil {
		return err
	}

	invCtx, err := pipeline.Context(cfg)
	if err != nil {
		return err
	}
	data, err := pipeline.LoadData(fsys, cfg)
	if err != nil {
		return err
	}
	inv, err := pipeline.Build(invCtx, data)
	if err != nil {
		return err
	}

	var catalogue sweep.Catalogue
	if path := cfg.GetDatabase(); path != "" {
		store, err := db.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		catalogue = store
	}

	runner, err := pipeline.Runner(fsys, cfg, inv, catalogue)
	if err != nil {
		return err
	}

	f, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("could not create summary %s: %w", summaryPath, err)
	}
	defer f.Close()
	runner.Summary = sweep.NewSummaryWriter(f)

	out, err := runner.Run(ctx, combos)
	if err != nil {
		return err
	}
	var done, skipped, failed int
	for _, o := range out {
		switch o.Status {
		case sweep.StatusDone:
			done++
		case sweep.StatusSkipped:
			skipped++
		case sweep.StatusFailed:
			failed++
		}
	}
	log.Printf("Sweep complete: %d done, %d skipped, %d failed", done, skipped, failed)
	log.Printf("Summary: %s", summaryPath)
	return nil
}

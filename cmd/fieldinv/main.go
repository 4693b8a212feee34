// Command fieldinv fits a time-dependent geomagnetic field model to
// GEOMAGIA data and writes the coefficients, residual history and
// optional reports to the output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/geomag/internal/config"
	"github.com/banshee-data/geomag/internal/db"
	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/pipeline"
	"github.com/banshee-data/geomag/internal/sweep"
	"github.com/banshee-data/geomag/internal/version"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if flags.Version {
		fmt.Println(version.String("fieldinv"))
		return
	}

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Inversion failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.InversionConfig) error {
	fsys := fsutil.OSFileSystem{}

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
	runner.Name = cfg.GetName()

	combo := sweep.Combo{Spatial: runner.Spatial.Factor, Temporal: runner.Temporal.Factor}
	out, err := runner.Run(ctx, []sweep.Combo{combo})
	if err != nil {
		return err
	}
	o := out[0]
	switch o.Status {
	case sweep.StatusFailed:
		return o.Err
	case sweep.StatusSkipped:
		log.Printf("%s exists in %s, rerun with -overwrite to replace it", o.Name, cfg.GetOutputDir())
	default:
		log.Printf("%s: %d iterations, residual %.4f, spatial norm %.4g, temporal norm %.4g",
			o.Name, o.Iterations, o.ResTotal, o.SpatialNorm, o.TemporalNorm)
	}
	return nil
}

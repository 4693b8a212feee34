package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/geomag/internal/damping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return f
}

func TestFlags_OnlySetFlagsOverride(t *testing.T) {
	cfg := EmptyInversionConfig()
	cfg.MaxDegree = ptrInt(7)
	cfg.Overwrite = ptrBool(false)

	f := parseFlags(t, "-iter", "3", "-data", "a.csv, b.csv,", "-spatial", "1e-3", "-temporal-type", "power")
	f.Apply(cfg)

	assert.Equal(t, 7, cfg.GetMaxDegree(), "unset flag keeps file value")
	assert.False(t, cfg.GetOverwrite(), "flag default does not override")
	assert.Equal(t, 3, cfg.GetMaxIterations())
	assert.Equal(t, []string{"a.csv", "b.csv"}, cfg.Data)
	assert.Equal(t, Damping{Factor: 1e-3, Type: damping.Gubbins}, cfg.GetSpatial())
	assert.Equal(t, damping.Power, cfg.GetTemporal().Type)
	assert.Nil(t, cfg.Grid)
}

func TestFlags_Grid(t *testing.T) {
	cfg := EmptyInversionConfig()
	parseFlags(t, "-start", "1900", "-end", "2000", "-step", "50", "-out", "/tmp/x", "-plot").Apply(cfg)

	epochs, err := cfg.Grid.Epochs()
	require.NoError(t, err)
	assert.Equal(t, []float64{1900, 1950, 2000}, epochs)
	assert.Equal(t, "/tmp/x", cfg.GetOutputDir())
	assert.True(t, cfg.GetPlot())
}

func TestFlags_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_degree": 4, "max_iterations": 2}`), 0o644))

	cfg, err := parseFlags(t, "-config", path, "-iter", "6").Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.GetMaxDegree())
	assert.Equal(t, 6, cfg.GetMaxIterations())

	_, err = parseFlags(t, "-degree", "0").Load()
	assert.Error(t, err)

	_, err = parseFlags(t, "-config", filepath.Join(t.TempDir(), "missing.json")).Load()
	assert.Error(t, err)
}

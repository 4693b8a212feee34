// Package dataprep reads GEOMAGIA50 CSV exports and turns them into
// station records for the inversion.
package dataprep

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/monitoring"
	"github.com/banshee-data/geomag/internal/units"
)

// DefaultAlpha95 is the α95 in degrees assumed for directions without one.
const DefaultAlpha95 = 4.5

// bpEpoch is the calendar year that ages before present count back from.
const bpEpoch = 1950

// Errors returned by the reader.
var (
	ErrUnknownLayout = errors.New("unrecognised GEOMAGIA header")
	ErrLocation      = errors.New("latitude or longitude out of range")
	ErrMissingColumn = errors.New("missing column")
)

// Layout is the flavour of a GEOMAGIA export.
type Layout int

const (
	// Archeo is the archaeomagnetic and volcanic export, dated in years AD
	// with intensities and α95.
	Archeo Layout = iota
	// Sediment is the sediment export, dated in years BP with per-angle
	// uncertainties.
	Sediment
)

func (l Layout) String() string {
	if l == Sediment {
		return "sediment"
	}
	return "archeo"
}

// column names per layout
var (
	archeoColumns = map[string]string{
		"t": "Age[yr.AD]", "lat": "SiteLat[deg.]", "lon": "SiteLon[deg.]",
		"D": "Dec[deg.]", "I": "Inc[deg.]", "a95": "Alpha95[deg.]",
		"F": "Ba[microT]", "dF": "SigmaBa[microT]",
	}
	sedimentColumns = map[string]string{
		"t": "Age[yr.BP]", "lat": "Lat[deg.]", "lon": "Lon[deg.]",
		"D": "Dec[deg.]", "I": "Inc[deg.]",
		"dD": "SigmaDec[deg.]", "dI": "SigmaInc[deg.]",
	}
)

// missing lists the markers GEOMAGIA uses for absent values.
var missing = map[string]bool{
	"": true, "9999": true, "999": true, "999.9": true,
	"nan": true, "NaN": true, "-999": true, "-9999": true,
}

// Options configures the reader.
type Options struct {
	// DefaultAlpha95 replaces a missing α95 of a direction.
	DefaultAlpha95 float64
	// DropDuplicates keeps only the first row of each site and date.
	DropDuplicates bool
}

// DefaultOptions returns the reader defaults.
func DefaultOptions() Options {
	return Options{DefaultAlpha95: DefaultAlpha95, DropDuplicates: true}
}

// Sample is one dated measurement. Missing values are NaN. Angles and
// their uncertainties are in degrees, intensities in nT.
type Sample struct {
	Time     float64
	Lat, Lon float64
	Dec, Inc float64
	F        float64
	DecErr   float64
	IncErr   float64
	FErr     float64
}

// Dataset is the content of one or more GEOMAGIA files.
type Dataset struct {
	Samples []Sample
	// Dropped counts rows discarded because they hold a declination
	// without an inclination.
	Dropped int
}

// ReadFile reads a GEOMAGIA export from fsys.
func ReadFile(fsys fsutil.FileSystem, path string, opts Options) (*Dataset, Layout, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	ds, layout, err := Read(f, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return ds, layout, nil
}

// Read parses a GEOMAGIA export. The first line is a title; the second
// holds the column names, from which the layout is detected.
func Read(r io.Reader, opts Options) (*Dataset, Layout, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, 0, fmt.Errorf("%w: file has no header row", ErrUnknownLayout)
	}

	index := make(map[string]int, len(records[1]))
	for i, name := range records[1] {
		index[strings.TrimSpace(name)] = i
	}
	layout, cols := Archeo, archeoColumns
	if _, ok := index[archeoColumns["t"]]; !ok {
		if _, ok := index[sedimentColumns["t"]]; !ok {
			return nil, 0, ErrUnknownLayout
		}
		layout, cols = Sediment, sedimentColumns
	}
	pos := make(map[string]int, len(cols))
	for key, name := range cols {
		i, ok := index[name]
		if !ok {
			return nil, 0, fmt.Errorf("%w %q in %s layout", ErrMissingColumn, name, layout)
		}
		pos[key] = i
	}

	type siteTime struct{ lat, lon, t float64 }
	ds := &Dataset{}
	seen := make(map[siteTime]bool)
	for n, rec := range records[2:] {
		line := n + 3
		s, ok, err := parseRow(rec, pos, layout, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		if opts.DropDuplicates {
			key := siteTime{s.Lat, s.Lon, s.Time}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		if !math.IsNaN(s.Dec) && math.IsNaN(s.Inc) {
			monitoring.Warnf("line %d has a declination but no inclination, dropping it", line)
			ds.Dropped++
			continue
		}
		ds.Samples = append(ds.Samples, s)
	}
	return ds, layout, nil
}

// parseRow converts one row. ok is false for rows lacking a time or a
// location, or holding no measurement at all.
func parseRow(rec []string, pos map[string]int, layout Layout, opts Options) (Sample, bool, error) {
	get := func(key string) (float64, error) {
		i, ok := pos[key]
		if !ok || i >= len(rec) {
			return math.NaN(), nil
		}
		v := strings.TrimSpace(rec[i])
		if missing[v] {
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		return f, nil
	}

	var s Sample
	var a95, dD, dI float64
	fields := []struct {
		key string
		dst *float64
	}{
		{"t", &s.Time}, {"lat", &s.Lat}, {"lon", &s.Lon},
		{"D", &s.Dec}, {"I", &s.Inc}, {"F", &s.F}, {"dF", &s.FErr},
		{"a95", &a95}, {"dD", &dD}, {"dI", &dI},
	}
	for _, f := range fields {
		v, err := get(f.key)
		if err != nil {
			return Sample{}, false, err
		}
		*f.dst = v
	}

	if math.IsNaN(s.Time) || math.IsNaN(s.Lat) || math.IsNaN(s.Lon) {
		return Sample{}, false, nil
	}
	if math.IsNaN(s.Dec) && math.IsNaN(s.Inc) && math.IsNaN(s.F) {
		return Sample{}, false, nil
	}
	if math.Abs(s.Lat) > 90 || s.Lon > 360 || s.Lon < -180 {
		return Sample{}, false, fmt.Errorf("%w: lat %g, lon %g", ErrLocation, s.Lat, s.Lon)
	}
	if s.Lon > 180 {
		s.Lon -= 360
	}
	if layout == Sediment {
		s.Time = bpEpoch - s.Time
	}

	s.F = units.ToNanotesla(s.F, units.UT)
	s.FErr = units.ToNanotesla(s.FErr, units.UT)

	s.IncErr, s.DecErr = math.NaN(), math.NaN()
	if !math.IsNaN(s.Dec) || !math.IsNaN(s.Inc) {
		if layout == Sediment && !math.IsNaN(dI) {
			s.IncErr = dI
			s.DecErr = dD
		} else {
			if math.IsNaN(a95) {
				a95 = opts.DefaultAlpha95
			}
			s.IncErr = Alpha95ToInclination(a95)
		}
		if math.IsNaN(s.DecErr) && !math.IsNaN(s.Inc) {
			s.DecErr = InclinationToDeclination(s.IncErr, s.Inc)
		}
	}
	return s, true, nil
}

// Alpha95ToInclination converts an α95 cone into a 1σ inclination
// uncertainty, both in degrees.
func Alpha95ToInclination(a95 float64) float64 {
	return a95 * 57.3 / 140
}

// InclinationToDeclination widens an inclination uncertainty into the
// declination uncertainty at inclination inc, in degrees.
func InclinationToDeclination(incErr, inc float64) float64 {
	return incErr / math.Abs(math.Cos(units.DegToRad(inc)))
}

// Merge appends the samples of other datasets.
func (d *Dataset) Merge(others ...*Dataset) {
	for _, o := range others {
		d.Samples = append(d.Samples, o.Samples...)
		d.Dropped += o.Dropped
	}
}

// Window returns the samples dated within [lo, hi].
func (d *Dataset) Window(lo, hi float64) *Dataset {
	out := &Dataset{Dropped: d.Dropped}
	for _, s := range d.Samples {
		if s.Time >= lo && s.Time <= hi {
			out.Samples = append(out.Samples, s)
		}
	}
	return out
}

// Records groups the samples by site into station records in order of
// first appearance. GEOMAGIA coordinates are geodetic at zero height.
func (d *Dataset) Records() []inversion.Record {
	type site struct{ lat, lon float64 }
	var order []site
	bySite := make(map[site]*[frechet.NumTypes]inversion.Series)

	for _, s := range d.Samples {
		k := site{s.Lat, s.Lon}
		series, ok := bySite[k]
		if !ok {
			series = new([frechet.NumTypes]inversion.Series)
			bySite[k] = series
			order = append(order, k)
		}
		add := func(t frechet.ObsType, v, e float64) {
			if math.IsNaN(v) || !(e > 0) || math.IsInf(e, 0) {
				return
			}
			ser := &series[t]
			ser.Type = t
			ser.Times = append(ser.Times, s.Time)
			ser.Values = append(ser.Values, v)
			ser.Errors = append(ser.Errors, e)
		}
		add(frechet.TypeIntensity, s.F, s.FErr)
		add(frechet.TypeInclination, s.Inc, s.IncErr)
		add(frechet.TypeDeclination, s.Dec, s.DecErr)
	}

	records := make([]inversion.Record, 0, len(order))
	for _, k := range order {
		rec := inversion.Record{
			Name:     fmt.Sprintf("%.4f_%.4f", k.lat, k.lon),
			Lat:      k.lat,
			Lon:      k.lon,
			Geodetic: true,
		}
		for _, ser := range bySite[k] {
			if len(ser.Times) > 0 {
				rec.Series = append(rec.Series, ser)
			}
		}
		if len(rec.Series) > 0 {
			records = append(records, rec)
		}
	}
	return records
}

package inversion

import (
	"fmt"
	"math"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/geodesy"
	"github.com/banshee-data/geomag/internal/units"
	"gonum.org/v1/gonum/mat"
)

// Series is one observed quantity at a station. Times, Values and Errors
// are parallel. Inclination and declination are given in degrees; every
// other type in nT.
type Series struct {
	Type   frechet.ObsType
	Times  []float64
	Values []float64
	Errors []float64
}

// Record is a station with its observations.
type Record struct {
	Name string
	// Lat and Lon are in degrees.
	Lat, Lon float64
	// Height is in metres, above the ellipsoid when Geodetic is set and
	// above the reference sphere otherwise.
	Height   float64
	Geodetic bool
	Series   []Series
}

// Validate checks the record's shape and values. It does not check time
// coverage, which depends on the inversion's knots.
func (r Record) Validate() error {
	if len(r.Series) == 0 {
		return fmt.Errorf("%w: %q has no series", ErrInvalidRecord, r.Name)
	}
	if !(r.Lat >= -90 && r.Lat <= 90) {
		return fmt.Errorf("%w: %q latitude %g", ErrInvalidRecord, r.Name, r.Lat)
	}
	if math.IsNaN(r.Lon) || math.IsInf(r.Lon, 0) || math.IsNaN(r.Height) || math.IsInf(r.Height, 0) {
		return fmt.Errorf("%w: %q location is not finite", ErrInvalidRecord, r.Name)
	}
	for _, s := range r.Series {
		if s.Type < 0 || int(s.Type) >= frechet.NumTypes {
			return fmt.Errorf("%w: %q unknown type %d", ErrInvalidRecord, r.Name, int(s.Type))
		}
		n := len(s.Times)
		if n == 0 {
			return fmt.Errorf("%w: %q %s series is empty", ErrInvalidRecord, r.Name, s.Type)
		}
		if len(s.Values) != n || len(s.Errors) != n {
			return fmt.Errorf("%w: %q %s series lengths %d/%d/%d differ",
				ErrInvalidRecord, r.Name, s.Type, n, len(s.Values), len(s.Errors))
		}
		for i := 0; i < n; i++ {
			if math.IsNaN(s.Times[i]) || math.IsInf(s.Times[i], 0) || math.IsNaN(s.Values[i]) || math.IsInf(s.Values[i], 0) {
				return fmt.Errorf("%w: %q %s datum %d is not finite", ErrInvalidRecord, r.Name, s.Type, i)
			}
			if !(s.Errors[i] > 0) || math.IsInf(s.Errors[i], 0) {
				return fmt.Errorf("%w: %q %s datum %d has uncertainty %g",
					ErrInvalidRecord, r.Name, s.Type, i, s.Errors[i])
			}
		}
	}
	return nil
}

// station converts the record's location to the geocentric frame.
func (r Record) station() frechet.Station {
	lat := units.DegToRad(r.Lat)
	lon := units.DegToRad(r.Lon)
	if r.Geodetic {
		colat, radius, cd, sd := geodesy.GeodeticToGeocentric(lat, r.Height)
		return frechet.Station{Colat: colat, Lon: lon, Radius: radius, CD: cd, SD: sd}
	}
	return frechet.Geocentric(math.Pi/2-lat, lon, geodesy.ReferenceRadius+r.Height*1e-3)
}

func timeSpan(times []float64) (lo, hi float64) {
	lo, hi = times[0], times[0]
	for _, t := range times[1:] {
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}
	return lo, hi
}

// pending is a series waiting in the builder, already in inversion units.
type pending struct {
	station int
	typ     frechet.ObsType
	times   []float64
	values  []float64
	errs    []float64
}

// builder accumulates variable-length series until Prepare.
type builder struct {
	series []pending
}

func (b *builder) add(station int, s Series) {
	p := pending{
		station: station,
		typ:     s.Type,
		times:   append([]float64(nil), s.Times...),
		values:  append([]float64(nil), s.Values...),
		errs:    append([]float64(nil), s.Errors...),
	}
	if s.Type.Angular() {
		for i := range p.values {
			p.values[i] = units.DegToRad(p.values[i])
			p.errs[i] = units.DegToRad(p.errs[i])
		}
	}
	b.series = append(b.series, p)
}

// datum addresses one observation in the layout.
type datum struct {
	series int
	index  int
}

// layout is the rectangular form of the builder. Slots beyond a series'
// length hold NaN.
type layout struct {
	times   *mat.Dense
	values  *mat.Dense
	errs    *mat.Dense
	station []int
	types   []frechet.ObsType

	// bins lists the data bound to each primary interval.
	bins    [][]datum
	counts  [frechet.NumTypes]int
	outside int
}

func (b *builder) finalize(model *bspline.Model) *layout {
	width := 1
	for _, s := range b.series {
		if len(s.times) > width {
			width = len(s.times)
		}
	}
	rows := len(b.series)
	l := &layout{
		times:   nanDense(rows, width),
		values:  nanDense(rows, width),
		errs:    nanDense(rows, width),
		station: make([]int, rows),
		types:   make([]frechet.ObsType, rows),
		bins:    make([][]datum, model.NumIntervals()),
	}
	for r, s := range b.series {
		l.station[r] = s.station
		l.types[r] = s.typ
		for i, t := range s.times {
			l.times.Set(r, i, t)
			l.values.Set(r, i, s.values[i])
			l.errs.Set(r, i, s.errs[i])
			tix, ok := model.Interval(t)
			if !ok {
				l.outside++
				continue
			}
			l.bins[tix] = append(l.bins[tix], datum{series: r, index: i})
			l.counts[s.typ]++
		}
	}
	return l
}

func nanDense(r, c int) *mat.Dense {
	d := make([]float64, r*c)
	for i := range d {
		d[i] = math.NaN()
	}
	return mat.NewDense(r, c, d)
}

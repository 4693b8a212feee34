// Package sweep runs an inversion over a grid of damping factors and
// records one summary row per combination, for L-curve style selection
// of the spatial and temporal damping.
package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxValues bounds the length of a generated range and maxCombos the
// size of a Cartesian expansion.
const (
	maxValues = 10000
	maxCombos = 10000
)

// RangeSpec defines a floating-point parameter range for sweeping.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	step, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	if step <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", step)
	}

	return RangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateRange returns min, min+step, … up to max inclusive, each value
// computed from its index. Returns nil if min > max or the range would
// exceed maxValues.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	if n > maxValues || n < 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	return out
}

// GenerateLogRange returns min·10^(k·decades) for k = 0, 1, … up to max
// inclusive. min must be positive.
func GenerateLogRange(min, max, decades float64) []float64 {
	if decades <= 0 || min <= 0 || min > max {
		return nil
	}
	lo := math.Log10(min)
	exps := GenerateRange(lo, math.Log10(max), decades)
	out := make([]float64, len(exps))
	for i, e := range exps {
		out[i] = min * math.Pow(10, e-lo)
	}
	return out
}

// ParseParamList parses a comma-separated list of floats or a
// "min:max:step" range. With log set, the step of a range is in
// decades.
func ParseParamList(s string, log bool) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if !strings.Contains(s, ":") {
		return ParseCSVFloat64s(s)
	}

	spec, err := ParseRangeSpec(s)
	if err != nil {
		return nil, err
	}
	var out []float64
	if log {
		if spec.Min <= 0 {
			return nil, fmt.Errorf("log range %q needs a positive minimum", s)
		}
		out = GenerateLogRange(spec.Min, spec.Max, spec.Step)
	} else {
		out = GenerateRange(spec.Min, spec.Max, spec.Step)
	}
	if out == nil {
		return nil, fmt.Errorf("range %q is empty or exceeds %d values", s, maxValues)
	}
	return out, nil
}

// ParseCSVFloat64s parses a comma-separated list of float64 values.
// Returns nil, nil for empty input strings.
func ParseCSVFloat64s(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ExpandRanges returns the Cartesian product of the specs, last spec
// varying fastest. An empty spec contributes the single value 0.
func ExpandRanges(log bool, specs ...string) ([][]float64, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	values := make([][]float64, len(specs))
	total := int64(1)
	for i, spec := range specs {
		v, err := ParseParamList(spec, log)
		if err != nil {
			return nil, fmt.Errorf("parsing spec %d (%q): %w", i, spec, err)
		}
		if len(v) == 0 {
			v = []float64{0}
		}
		values[i] = v
		total *= int64(len(v))
		if total > maxCombos {
			return nil, fmt.Errorf("parameter combinations would exceed safe limit of %d", maxCombos)
		}
	}

	result := make([][]float64, total)
	for i := range result {
		result[i] = make([]float64, len(specs))
	}
	repeat := int64(1)
	for dim := len(specs) - 1; dim >= 0; dim-- {
		dimValues := values[dim]
		cycle := int64(len(dimValues))
		for i := int64(0); i < total; i++ {
			result[i][dim] = dimValues[(i/repeat)%cycle]
		}
		repeat *= cycle
	}
	return result, nil
}

// Combo is one pair of damping factors.
type Combo struct {
	Spatial  float64
	Temporal float64
}

// Combos expands the spatial and temporal specs into damping pairs in
// spatial-major order.
func Combos(spatial, temporal string, log bool) ([]Combo, error) {
	grid, err := ExpandRanges(log, spatial, temporal)
	if err != nil {
		return nil, err
	}
	out := make([]Combo, len(grid))
	for i, g := range grid {
		out[i] = Combo{Spatial: g[0], Temporal: g[1]}
	}
	return out, nil
}

package types

import (
	"math"
	"sort"
)

// epsilon absorbs float rounding when comparing fractional amounts such as
// broker credits of 0.1.
const epsilon = 1e-9

// Resources is a multi-dimensional resource vector keyed by dimension name
// (for example "broker", "router" or "memory").
type Resources map[string]float64

// Clone returns a copy of r. A nil vector clones to an empty one.
func (r Resources) Clone() Resources {
	out := make(Resources, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	out := r.Clone()
	for k, v := range o {
		out[k] += v
	}
	return out
}

// Sub returns r - o.
func (r Resources) Sub(o Resources) Resources {
	out := r.Clone()
	for k, v := range o {
		out[k] -= v
	}
	return out
}

// Scale returns r multiplied by n.
func (r Resources) Scale(n float64) Resources {
	out := make(Resources, len(r))
	for k, v := range r {
		out[k] = v * n
	}
	return out
}

// Weight is the sum of all amounts. It orders shards for first-fit-decreasing.
func (r Resources) Weight() float64 {
	var w float64
	for _, k := range r.Dimensions() {
		w += r[k]
	}
	return w
}

// Dimensions returns the dimension names in sorted order.
func (r Resources) Dimensions() []string {
	dims := make([]string, 0, len(r))
	for k := range r {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	return dims
}

// Fits reports whether r fits into capacity in every dimension. A dimension
// missing from capacity has zero capacity.
func (r Resources) Fits(capacity Resources) bool {
	_, short := r.Shortfall(capacity)
	return !short
}

// Shortfall returns the first dimension, in sorted order, where r needs more
// than capacity provides.
func (r Resources) Shortfall(capacity Resources) (string, bool) {
	for _, k := range r.Dimensions() {
		if r[k] <= 0 {
			continue
		}
		if r[k] > capacity[k]+epsilon {
			return k, true
		}
	}
	return "", false
}

// Exceeds returns the first dimension, in sorted order, where r is above
// limit. Dimensions absent from limit are unbounded.
func (r Resources) Exceeds(limit Resources) (string, bool) {
	for _, k := range limit.Dimensions() {
		if r[k] > limit[k]+epsilon {
			return k, true
		}
	}
	return "", false
}

// Equal compares two vectors, treating missing dimensions as zero.
func (r Resources) Equal(o Resources) bool {
	for k, v := range r {
		if math.Abs(v-o[k]) > epsilon {
			return false
		}
	}
	for k, v := range o {
		if math.Abs(v-r[k]) > epsilon {
			return false
		}
	}
	return true
}

// Negative returns the first dimension holding a negative amount.
func (r Resources) Negative() (string, bool) {
	for _, k := range r.Dimensions() {
		if r[k] < 0 {
			return k, true
		}
	}
	return "", false
}

// Package sliceorder recovers the multiband slice acquisition order from
// per-slice timing metadata.
package sliceorder

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"dmritools/internal/models"
	"dmritools/pkg/sidecar"
	"dmritools/pkg/textarray"
)

// Mode selects how strictly groups are checked against the multiband factor.
type Mode int

const (
	// ModeStrict requires every group to hold exactly factor slices.
	ModeStrict Mode = iota

	// ModeFirstGroup only checks the earliest group.
	ModeFirstGroup
)

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeFirstGroup:
		return "first-group"
	default:
		return "unknown"
	}
}

// InconsistencyError reports a timing group whose size differs from the
// multiband acceleration factor.
type InconsistencyError struct {
	Group    int
	Time     float64
	Size     int
	Expected int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%v: group %d (time %g) has %d slices, expected %d",
		models.ErrSliceOrderInconsistent, e.Group, e.Time, e.Size, e.Expected)
}

func (e *InconsistencyError) Unwrap() error {
	return models.ErrSliceOrderInconsistent
}

// Order is the recovered acquisition order: one group of slice indices per
// distinct slice time, earliest first.
type Order struct {
	// Times holds the distinct slice times in ascending order
	Times []float64

	// Groups holds, for every time, the slice indices acquired at it in
	// their original order
	Groups [][]int
}

// Recover groups slice indices by shared acquisition time.
func Recover(timing []float64) Order {
	times := distinctSorted(timing)

	index := make(map[float64]int, len(times))
	for i, t := range times {
		index[t] = i
	}

	groups := make([][]int, len(times))
	for slice, t := range timing {
		g := index[t]
		groups[g] = append(groups[g], slice)
	}

	return Order{Times: times, Groups: groups}
}

func distinctSorted(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks group sizes against the multiband factor.
func (o Order) Validate(factor int, mode Mode) error {
	if len(o.Groups) == 0 {
		return &InconsistencyError{Group: 0, Size: 0, Expected: factor}
	}

	n := len(o.Groups)
	if mode == ModeFirstGroup {
		n = 1
	}
	for i := 0; i < n; i++ {
		if len(o.Groups[i]) != factor {
			return &InconsistencyError{Group: i, Time: o.Times[i], Size: len(o.Groups[i]), Expected: factor}
		}
	}
	return nil
}

// FromSidecar reads SliceTiming and MultibandAccelerationFactor from a
// sidecar, recovers the order and validates it.
func FromSidecar(path string, mode Mode) (Order, error) {
	sc, err := sidecar.Load(path)
	if err != nil {
		return Order{}, err
	}
	timing, err := sc.Timing()
	if err != nil {
		return Order{}, err
	}
	factor, err := sc.MultibandFactor()
	if err != nil {
		return Order{}, err
	}

	order := Recover(timing)

	log.WithFields(log.Fields{
		"slices": len(timing),
		"groups": len(order.Groups),
		"factor": factor,
		"mode":   mode,
	}).Debug("Recovered slice order")

	if err := order.Validate(factor, mode); err != nil {
		return Order{}, fmt.Errorf("%s: %w", path, err)
	}
	return order, nil
}

// Save writes the groups as a whitespace-delimited integer table, one row
// per group. Groups of unequal size cannot be written.
func (o Order) Save(path string) error {
	return textarray.SaveInts(path, o.Groups)
}

// Load reads a table written by Save.
func Load(path string) ([][]int, error) {
	return textarray.LoadInts(path)
}

package compare

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// DefaultNameWidth is the width of the right-aligned field name column.
const DefaultNameWidth = 20

// ReportOptions controls how comparison results are printed
type ReportOptions struct {
	// NameWidth is the width of the field name column
	NameWidth int

	// Color highlights fields that differ
	Color bool
}

// Report formats comparison results for a terminal.
type Report struct {
	w    io.Writer
	opts ReportOptions

	differ   lipgloss.Style
	mismatch lipgloss.Style
}

// NewReport creates a report writing to w
func NewReport(w io.Writer, opts ReportOptions) *Report {
	if opts.NameWidth <= 0 {
		opts.NameWidth = DefaultNameWidth
	}
	r := &Report{w: w, opts: opts}
	if opts.Color {
		renderer := lipgloss.NewRenderer(w)
		renderer.SetColorProfile(termenv.ANSI)
		r.differ = renderer.NewStyle().Foreground(lipgloss.Color("3"))
		r.mismatch = renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	}
	return r
}

// Header prints the report title followed by a blank line.
func (r *Report) Header(ap, pa string) error {
	_, err := fmt.Fprintf(r.w, "Comparing %s with %s\n\n", ap, pa)
	return err
}

// Line prints one field comparison.
func (r *Report) Line(fc FieldComparison) error {
	line := FormatLine(fc, r.opts.NameWidth)
	if r.opts.Color {
		switch {
		case !fc.Close:
			line = r.mismatch.Render(line)
		case !fc.Equal:
			line = r.differ.Render(line)
		}
	}
	_, err := fmt.Fprintln(r.w, line)
	return err
}

// Write prints the header and every result.
func (r *Report) Write(ap, pa string, results []FieldComparison) error {
	if err := r.Header(ap, pa); err != nil {
		return err
	}
	for _, fc := range results {
		if err := r.Line(fc); err != nil {
			return err
		}
	}
	return nil
}

// FormatLine renders a result as
//
//	>>>              EchoTime:   match  True; close  True; deviation 0.0
func FormatLine(fc FieldComparison, width int) string {
	return fmt.Sprintf(">>> %*s:   match %5s; close %5s; deviation %s",
		width, fc.Field, formatBool(fc.Equal), formatBool(fc.Close), FormatFloat(fc.MaxDeviation))
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// FormatFloat renders v the shortest way that round-trips, always with a
// decimal point or exponent: 0.0, 2.5, 1e-06, 1.5e+16.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	a := math.Abs(v)
	if a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

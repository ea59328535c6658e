// Package textarray reads and writes whitespace-delimited numeric text files
// such as FSL-style .bval/.bvec files and slice order tables.
package textarray

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"dmritools/internal/models"
)

// Parse reads a rectangular table of numbers. Blank lines and lines starting
// with '#' are skipped. Singleton dimensions are squeezed: a single row or a
// single column yields a vector and a single value yields a scalar.
func Parse(r io.Reader) (models.Array, error) {
	var data []float64
	rows, cols := 0, -1

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if cols >= 0 && len(fields) != cols {
			return models.Array{}, fmt.Errorf("%w: line %d has %d columns, expected %d", models.ErrShapeMismatch, line, len(fields), cols)
		}
		cols = len(fields)

		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return models.Array{}, fmt.Errorf("line %d: invalid number %q: %w", line, f, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return models.Array{}, fmt.Errorf("error reading table: %w", err)
	}

	switch {
	case rows == 0:
		return models.Array{Shape: []int{0}, Data: []float64{}}, nil
	case rows == 1 && cols == 1:
		return models.Scalar(data[0]), nil
	case rows == 1:
		return models.Array{Shape: []int{cols}, Data: data}, nil
	case cols == 1:
		return models.Array{Shape: []int{rows}, Data: data}, nil
	default:
		return models.Array{Shape: []int{rows, cols}, Data: data}, nil
	}
}

// Load reads a numeric table from a file.
func Load(path string) (models.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Array{}, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	a, err := Parse(f)
	if err != nil {
		return models.Array{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// WriteInts writes one row per line, integers separated by single spaces.
// Every row must have the same length.
func WriteInts(w io.Writer, rows [][]int) error {
	bw := bufio.NewWriter(w)
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return fmt.Errorf("%w: row %d has %d values, row 0 has %d", models.ErrShapeMismatch, i, len(row), len(rows[0]))
		}
		for j, v := range row {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.Itoa(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SaveInts writes an integer table to path. Nothing is created when the
// table is not rectangular.
func SaveInts(path string, rows [][]int) error {
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return fmt.Errorf("%w: row %d has %d values, row 0 has %d", models.ErrShapeMismatch, i, len(row), len(rows[0]))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if err := WriteInts(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadInts reads a table of integers written by WriteInts.
func ReadInts(r io.Reader) ([][]int, error) {
	var rows [][]int
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q: %w", f, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

// LoadInts reads an integer table from a file.
func LoadInts(path string) ([][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()
	return ReadInts(f)
}

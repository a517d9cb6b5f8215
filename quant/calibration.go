// Package quant derives fixed-point quantization parameters from calibration statistics, and
// requantizes float constants (filters and biases) into integer buffers.
package quant

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingCalibration is returned when no statistics exist for a value that needs them.
	ErrMissingCalibration = errors.New("missing calibration statistics")

	// ErrInvalidCalibration is returned when the statistics of a value yield a non-positive scale.
	ErrInvalidCalibration = errors.New("invalid calibration statistics")
)

// Stats are the calibration statistics collected for one value.
type Stats struct {
	// Threshold is the symmetric clipping threshold. If zero, max(|Min|, |Max|) is used.
	Threshold float64 `yaml:"threshold"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
}

// Provider gives access to calibration statistics, by value name.
type Provider interface {
	Lookup(name string) (Stats, bool)
}

// Table is an in-memory Provider.
type Table map[string]Stats

// Lookup implements Provider.
func (t Table) Lookup(name string) (Stats, bool) {
	stats, found := t[name]
	return stats, found
}

// Names returns the sorted names in the table.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadTable parses a calibration table in text format: one value per line, as
// "name threshold min max". Blank lines and lines starting with "#" are ignored.
func LoadTable(r io.Reader) (Table, error) {
	table := make(Table)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("calibration table line %d: expected \"name threshold min max\", got %d fields",
				lineNum, len(fields))
		}
		var values [3]float64
		for ii, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "calibration table line %d: parsing %q", lineNum, field)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("calibration table line %d: non-finite value %q", lineNum, field)
			}
			values[ii] = v
		}
		if values[1] > values[2] {
			return nil, errors.Errorf("calibration table line %d: min %g > max %g for %q",
				lineNum, values[1], values[2], fields[0])
		}
		table[fields[0]] = Stats{Threshold: values[0], Min: values[1], Max: values[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading calibration table")
	}
	return table, nil
}

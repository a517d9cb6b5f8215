package lowering

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/quant"
)

// Mode selects the lowering entry point used by Run.
type Mode string

const (
	ModeF32  Mode = "f32"
	ModeINT8 Mode = "int8"
)

// Config of a lowering pass.
type Config struct {
	// Mode selects float32 or int8 lowering.
	Mode Mode `yaml:"mode"`

	// Asymmetric selects asymmetric (zero-point) int8 quantization.
	Asymmetric bool `yaml:"asymmetric"`

	// BiasOverflowTolerance is the fraction of saturated bias elements accepted before reducing
	// the right-shift.
	BiasOverflowTolerance float64 `yaml:"bias_overflow_tolerance"`
}

// DefaultConfig returns the default configuration: int8, symmetric, with
// quant.DefaultBiasOverflowTolerance.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeINT8,
		BiasOverflowTolerance: quant.DefaultBiasOverflowTolerance,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeF32, ModeINT8:
	default:
		return errors.Errorf("invalid lowering mode %q: valid values are %q and %q", c.Mode, ModeF32, ModeINT8)
	}
	if c.BiasOverflowTolerance < 0 || c.BiasOverflowTolerance > 1 {
		return errors.Errorf("bias overflow tolerance must be in [0, 1], got %g", c.BiasOverflowTolerance)
	}
	return nil
}

// Context is the state of one lowering pass, passed explicitly to every Lowering call.
type Context struct {
	Graph       *ir.Graph
	Calibration quant.Provider
	Config      Config
	Report      *Report

	nameCounters map[string]int
}

// NewContext creates a context to lower g. calibration may be nil for float32 lowering.
func NewContext(g *ir.Graph, calibration quant.Provider, config Config) *Context {
	return &Context{
		Graph:        g,
		Calibration:  calibration,
		Config:       config,
		Report:       &Report{},
		nameCounters: make(map[string]int),
	}
}

// UniqueName returns base if no node in the graph uses it yet, otherwise base with the first free
// numeric suffix ("base_1", "base_2", ...).
func (ctx *Context) UniqueName(base string) string {
	if ctx.nameCounters == nil {
		ctx.nameCounters = make(map[string]int)
	}
	if !ctx.Graph.HasName(base) {
		return base
	}
	for suffix := ctx.nameCounters[base] + 1; ; suffix++ {
		name := fmt.Sprintf("%s_%d", base, suffix)
		if !ctx.Graph.HasName(name) {
			ctx.nameCounters[base] = suffix - 1
			return name
		}
	}
}

// replace commits the replacement of n and records it in the report.
func (ctx *Context) replace(n *ir.Node, kind ir.Kind, resultTypes []ir.TensorType, operands []ir.ValueID,
	attrs ir.Attributes, entry Entry) (*ir.Node, error) {
	newNode, err := ctx.Graph.Replace(n.ID, kind, resultTypes, operands, attrs)
	if err != nil {
		return nil, err
	}
	entry.Node = n.Name
	entry.From = n.Kind
	entry.To = kind
	ctx.Report.Entries = append(ctx.Report.Entries, entry)
	return newNode, nil
}

// Package engine defines the conversion engine contract and its implementations.
package engine

import (
	"context"

	"github.com/jdziat/docflow/pkg/core"
)

// Input is everything an engine needs to convert one document.
type Input struct {
	JobID     string                  `json:"job_id"`
	Path      string                  `json:"input_path"`
	Filename  string                  `json:"filename"`
	Format    core.InputFormat        `json:"format"`
	OutputDir string                  `json:"output_dir"`
	Settings  core.ConversionSettings `json:"settings"`
}

// Engine converts a document. Implementations may block for minutes and
// are not required to honour ctx; callers must not rely on early return.
// Progress milestones are reported through jobctx.ReportProgress.
type Engine interface {
	Convert(ctx context.Context, in Input) (*core.ConversionResult, error)
}

// FuncEngine adapts a plain function to the Engine interface.
type FuncEngine func(ctx context.Context, in Input) (*core.ConversionResult, error)

// Convert calls f.
func (f FuncEngine) Convert(ctx context.Context, in Input) (*core.ConversionResult, error) {
	return f(ctx, in)
}

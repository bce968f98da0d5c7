// Package jobctx provides public access to job context for conversion engines.
package jobctx

import (
	"context"

	"github.com/jdziat/docflow/pkg/core"
	intctx "github.com/jdziat/docflow/pkg/internal/context"
)

// JobIDFromContext returns the current job ID from context, or empty string if not in a conversion.
func JobIDFromContext(ctx context.Context) string {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return ""
	}
	return jc.JobID
}

// FormatFromContext returns the input format of the job being converted.
func FormatFromContext(ctx context.Context) core.InputFormat {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return ""
	}
	return jc.Format
}

// ReportProgress sends a progress milestone to the owner of the job record.
// Progress never moves backwards; values below the last report are dropped.
// The first report stops milestone estimates for the rest of the job.
// Returns false if not running within a conversion.
func ReportProgress(ctx context.Context, progress int, message string) bool {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return false
	}
	return jc.Advance(progress, message)
}

// CurrentProgress returns the last reported progress, or 0 outside a conversion.
func CurrentProgress(ctx context.Context) int {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return 0
	}
	return jc.Progress()
}

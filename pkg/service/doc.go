// Package service is the application layer of docflow.
//
// It stages uploaded documents on disk, detects their format, resolves the
// effective conversion settings for the caller's session and submits them
// to the queue. Reads fall back from the queue to history so a job stays
// visible after its in-memory record has been evicted.
//
// Basic usage:
//
//	svc := service.New(q, store, store,
//	    service.WithUploadDir("/var/lib/docflow/uploads"),
//	    service.WithOutputDir("/var/lib/docflow/outputs"),
//	)
//	job, err := svc.Submit(ctx, service.Upload{
//	    Filename: "report.pdf",
//	    Reader:   f,
//	})
package service

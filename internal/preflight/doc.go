// Package preflight checks that the machine can hold and serve a local
// index before pdfrag writes to it.
//
// The checks cover:
//   - free disk space under the data directory (minimum 100 MB)
//   - write permission in the data directory
//   - the open file limit (minimum 1024), which folder watching and the
//     on-disk indexes consume
//
// Run them together:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg.Local.DataDir)
//	if checker.HasCriticalFailures(results) {
//	    return preflight.Err(results)
//	}
package preflight

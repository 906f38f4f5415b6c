package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open file limit below which folder watching
// starts to fail. fsnotify holds one descriptor per watched directory on
// top of the index files.
const MinFileDescriptors = 1024

// CheckFileDescriptors reads the soft RLIMIT_NOFILE. It never fails the
// run: a low limit only matters for --watch.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Status: StatusWarn}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Message = fmt.Sprintf("failed to read the open file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("soft limit %d (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		result.Details = "Run 'ulimit -n 10240' before 'pdfrag ingest --watch'"
		return result
	}
	result.Status = StatusPass
	return result
}

package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free space a local index needs to start.
const MinDiskSpaceBytes = 100 << 20

// CheckDiskSpace measures free space on the volume that holds path. A
// path that does not exist yet is measured at its nearest parent.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true, Status: StatusFail}

	free, err := freeBytes(path)
	if err != nil {
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s free at %s (minimum: %s)", formatBytes(free), path, formatBytes(MinDiskSpaceBytes))
	if free < MinDiskSpaceBytes {
		result.Details = "free space on the volume holding local.data_dir"
		return result
	}
	result.Status = StatusPass
	return result
}

func freeBytes(path string) (uint64, error) {
	dir, err := existingParent(path)
	if err != nil {
		return 0, err
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// formatBytes renders n with a binary unit and one decimal.
func formatBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	v := float64(n)
	for _, unit := range []string{"KB", "MB", "GB"} {
		v /= 1024
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
	}
	return fmt.Sprintf("%.1f TB", v/1024)
}

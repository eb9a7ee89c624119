package pve

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpaceGB reports the free space on the filesystem backing the given
// path, in whole gigabytes.
func FreeSpaceGB(path string) (int, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	return int(free / (1 << 30)), nil
}

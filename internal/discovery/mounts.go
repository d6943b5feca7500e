package discovery

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const procMountsPath = "/proc/mounts"

// MountPoints reads the mount table and returns mount points at or beneath
// the given roots, in mount-table order.
func MountPoints(roots []string) ([]string, error) {
	return mountPointsFrom(procMountsPath, roots)
}

func mountPointsFrom(path string, roots []string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	defer file.Close()

	var mounts []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		mountPoint := unescapeMountPath(fields[1])
		if !underAnyRoot(mountPoint, roots) {
			continue
		}
		if _, ok := seen[mountPoint]; ok {
			continue
		}
		seen[mountPoint] = struct{}{}
		mounts = append(mounts, mountPoint)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return mounts, nil
}

// Suggest returns candidate directories to monitor: mount points currently
// beneath the roots, or the roots themselves that exist when nothing is
// mounted yet.
func Suggest(roots []string) []string {
	mounts, err := MountPoints(roots)
	if err == nil && len(mounts) > 0 {
		return mounts
	}
	var existing []string
	for _, root := range roots {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			existing = append(existing, root)
		}
	}
	return existing
}

func underAnyRoot(mountPoint string, roots []string) bool {
	for _, root := range roots {
		root = strings.TrimRight(root, "/")
		if root == "" {
			continue
		}
		if mountPoint == root || strings.HasPrefix(mountPoint, root+"/") {
			return true
		}
	}
	return false
}

// unescapeMountPath decodes the octal escapes /proc/mounts uses for spaces,
// tabs, newlines, and backslashes.
func unescapeMountPath(path string) string {
	if !strings.Contains(path, `\`) {
		return path
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && i+3 < len(path) {
			if code, err := strconv.ParseUint(path[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

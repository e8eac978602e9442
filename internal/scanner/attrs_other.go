//go:build !linux

package scanner

import (
	"io/fs"

	"assurance/internal/model"
)

// Only the portable attributes from Lstat are available here.
func readPlatformAttrs(string, fs.FileInfo, *model.FileAttributeRecord, bool) error {
	return nil
}

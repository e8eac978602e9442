package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"assurance/internal/apperr"
	"assurance/internal/model"
)

const permissionBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

func (s *Scanner) readRecord(rel string) model.FileAttributeRecord {
	abs := s.abs(rel)
	rec := model.FileAttributeRecord{
		Path: rel,
		Name: path.Base(rel),
	}
	rec.Flags.Hidden = strings.HasPrefix(rec.Name, ".")

	info, err := os.Lstat(abs)
	if err != nil {
		rec.Type = model.TypeOther
		rec.Error = appendError("", fmt.Errorf("failed to stat: %w", err))
		return rec
	}

	mode := info.Mode()
	rec.Type = model.EntryTypeOf(mode)
	rec.Modified = info.ModTime()
	rec.Permissions = mode & permissionBits
	rec.Flags.ReadOnly = mode.Perm()&0200 == 0

	switch rec.Type {
	case model.TypeFile:
		rec.Size = info.Size()
	case model.TypeSymlink:
		target, err := os.Readlink(abs)
		if err != nil {
			rec.Error = appendError(rec.Error, fmt.Errorf("failed to read link: %w", err))
		}
		rec.LinkTarget = target
		rec.Size = int64(len(target))
	}

	if err := readPlatformAttrs(abs, info, &rec, s.opts.IncludeAdvancedAttributes); err != nil {
		rec.Error = appendError(rec.Error, err)
	}

	if s.opts.DeepScan && rec.Type == model.TypeFile {
		sum, err := checksum(abs)
		if err != nil {
			rec.Error = appendError(rec.Error, fmt.Errorf("failed to hash content: %w", err))
		}
		rec.ContentHash = sum
	}

	return rec
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func appendError(existing string, err error) string {
	msg := apperr.Wrap(apperr.KindEntryRead, err, "entry read error").Error()
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

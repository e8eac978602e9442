// Package scanner walks a directory tree and captures one attribute record
// per entry below the root.
package scanner

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"

	"assurance/internal/apperr"
	"assurance/internal/logger"
	"assurance/internal/model"
	"assurance/internal/pipeline"

	"go.uber.org/zap"
)

type Options struct {
	// IncludeAdvancedAttributes reads owner, group, ACL and extended
	// attributes, which costs extra syscalls per entry.
	IncludeAdvancedAttributes bool
	DeepScan                  bool
	Filter                    *pipeline.Filter
}

type Scanner struct {
	root string
	opts Options
}

// New returns a scanner for root, failing with PATH_INACCESSIBLE when the
// root cannot be listed.
func New(root string, opts Options) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPathInaccessible, err, "cannot resolve %s", root)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPathInaccessible, err, "cannot access %s", abs)
	}
	if !info.IsDir() {
		return nil, apperr.New(apperr.KindPathInaccessible, "%s is not a directory", abs)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPathInaccessible, err, "cannot open %s", abs)
	}
	_ = f.Close()

	return &Scanner{root: abs, opts: opts}, nil
}

func (s *Scanner) Root() string {
	return s.root
}

// Records returns the entries below the root, depth first with parents
// before children and siblings in name order. Every range over the sequence
// walks the tree again.
func (s *Scanner) Records(ctx context.Context) iter.Seq[model.FileAttributeRecord] {
	return func(yield func(model.FileAttributeRecord) bool) {
		if err := s.Walk(ctx, yield); err != nil {
			logger.Log.Warn("scan aborted",
				zap.String("root", s.root),
				zap.Error(err))
		}
	}
}

// Walk calls fn for every entry until fn returns false or ctx is done.
// Only an unreadable root is reported as an error.
func (s *Scanner) Walk(ctx context.Context, fn func(model.FileAttributeRecord) bool) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return apperr.Wrap(apperr.KindPathInaccessible, err, "cannot read %s", s.root)
	}

	s.walkEntries(ctx, "", entries, fn)
	return nil
}

// Collect gathers every record. On cancellation it returns the records read
// so far together with the context error.
func (s *Scanner) Collect(ctx context.Context) ([]model.FileAttributeRecord, error) {
	var records []model.FileAttributeRecord

	err := s.Walk(ctx, func(rec model.FileAttributeRecord) bool {
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}

	return records, ctx.Err()
}

func (s *Scanner) walkEntries(ctx context.Context, rel string, entries []os.DirEntry, fn func(model.FileAttributeRecord) bool) bool {
	for _, d := range entries {
		if ctx.Err() != nil {
			return false
		}

		childRel := path.Join(rel, d.Name())
		if s.opts.Filter.Ignore(childRel, d.IsDir()) {
			logger.Log.Debug("entry ignored",
				zap.String("path", childRel))
			continue
		}

		rec := s.readRecord(childRel)

		var children []os.DirEntry
		if rec.Type == model.TypeDirectory {
			var err error
			// ReadDir returns what it could read alongside the error
			children, err = os.ReadDir(s.abs(childRel))
			if err != nil {
				rec.Error = appendError(rec.Error, fmt.Errorf("failed to read directory: %w", err))
			}
		}

		if !fn(rec) {
			return false
		}

		if len(children) > 0 && !s.walkEntries(ctx, childRel, children, fn) {
			return false
		}
	}

	return true
}

func (s *Scanner) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Package merge carries out the filesystem actions that resolve comparison
// entries.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"assurance/internal/apperr"
	"assurance/internal/logger"
	"assurance/internal/model"
	"assurance/internal/pipeline"
	"assurance/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxAttempts       = 2
	defaultRetryDelay = 200 * time.Millisecond
)

var errUnsupportedType = errors.New("unsupported entry type")

// Scope identifies the result being resolved and the roots it compared.
// Filter is the one the scan ran with; content it hid is not copied.
type Scope struct {
	ResultID   string
	Definition model.DefinitionSnapshot
	Filter     *pipeline.Filter
}

func (s Scope) abs(side model.Side, rel string) string {
	return filepath.Join(s.Definition.Root(side), filepath.FromSlash(rel))
}

// skipBelow adapts Filter to paths relative to the directory at base.
func (s Scope) skipBelow(base string) func(string, bool) bool {
	return func(rel string, isDir bool) bool {
		return s.Filter.Ignore(path.Join(base, rel), isDir)
	}
}

type Request struct {
	Entry  model.ComparisonEntry
	Choice model.MergeChoice
	Auto   bool
}

type Resolver struct {
	trash      *Trash
	workers    int
	retryDelay time.Duration
	locks      *pathLocks
	apply      func(Scope, *model.ComparisonEntry, Plan) (string, error)
}

func NewResolver(trash *Trash, workers int) *Resolver {
	if workers <= 0 {
		workers = 1
	}

	r := &Resolver{
		trash:      trash,
		workers:    workers,
		retryDelay: defaultRetryDelay,
		locks:      newPathLocks(),
	}
	r.apply = r.applyPlan

	return r
}

// Resolve plans and executes one request. The error reports a rejected
// request; a failed filesystem action is recorded on the returned resolution.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, req Request) (model.MergeResolution, error) {
	plan, err := PlanFor(&req.Entry, req.Choice)
	if err != nil {
		return model.MergeResolution{}, err
	}

	return r.execute(ctx, scope, req, plan), nil
}

// ResolveAll executes requests concurrently, at most one writer per
// destination path. Rejected requests are skipped. An entry below a directory
// that is copied or trashed by the same batch is resolved together with that
// directory. Resolutions come back in request order.
func (r *Resolver) ResolveAll(ctx context.Context, scope Scope, reqs []Request) []model.MergeResolution {
	plans := make([]*Plan, len(reqs))
	byPath := make(map[string]int, len(reqs))

	for i := range reqs {
		p, err := PlanFor(&reqs[i].Entry, reqs[i].Choice)
		if err != nil {
			logger.Log.Debug("merge request skipped",
				zap.String("path", reqs[i].Entry.Path),
				zap.Error(err))
			continue
		}
		plans[i] = &p
		byPath[reqs[i].Entry.Path] = i
	}

	covered := make(map[int]int)
	for i, p := range plans {
		if p == nil {
			continue
		}
		if j, ok := coveringAncestor(reqs, plans, byPath, i); ok {
			covered[i] = j
		}
	}

	results := make([]*model.MergeResolution, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.workers)

	for i, p := range plans {
		if p == nil {
			continue
		}
		if _, ok := covered[i]; ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := r.execute(ctx, scope, reqs[i], *p)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for i, j := range covered {
		if results[j] == nil {
			continue
		}
		res := inherit(reqs[i], *plans[i], reqs[j].Entry.Path, *results[j])
		results[i] = &res
	}

	out := make([]model.MergeResolution, 0, len(reqs))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}

	return out
}

// Restore moves an entry trashed by last back into place. Any resolution
// that left something in the trash qualifies, failed ones included.
func (r *Resolver) Restore(scope Scope, entry *model.ComparisonEntry, last *model.MergeResolution) (model.MergeResolution, error) {
	if last == nil || last.TrashPath == "" {
		return model.MergeResolution{}, apperr.Validation("path", "%s has no trashed item to restore", entry.Path)
	}

	dst := scope.abs(last.Side, entry.Path)
	unlock := r.locks.Lock(dst)
	defer unlock()

	res := model.MergeResolution{
		ResultID:   scope.ResultID,
		EntryPath:  entry.Path,
		Choice:     last.Choice,
		Action:     model.ActionRestore,
		Side:       last.Side,
		Attempts:   1,
		ResolvedAt: time.Now(),
	}

	if err := r.trash.Restore(last.TrashPath, dst); err != nil {
		res.SetError(apperr.Wrap(apperr.KindMergeActionFailed, err, "restore %s", entry.Path))
		logger.Log.Error("restore failed",
			zap.String("path", entry.Path),
			zap.Error(err))
		return res, nil
	}

	res.Succeeded = true
	logger.Log.Info("entry restored",
		zap.String("path", entry.Path),
		zap.String("from", last.TrashPath))

	return res, nil
}

func (r *Resolver) execute(ctx context.Context, scope Scope, req Request, plan Plan) model.MergeResolution {
	res := model.MergeResolution{
		ResultID:  scope.ResultID,
		EntryPath: req.Entry.Path,
		Choice:    plan.Choice,
		Action:    plan.Action,
		Side:      plan.To,
		Auto:      req.Auto,
	}

	if plan.Action == model.ActionNone {
		res.Succeeded = true
		res.ResolvedAt = time.Now()
		logger.Log.Debug("entry resolved without change",
			zap.String("path", req.Entry.Path),
			zap.String("choice", string(plan.Choice)))
		return res
	}

	unlock := r.locks.Lock(scope.abs(plan.To, req.Entry.Path))
	defer unlock()

	var err error
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		var trashPath string
		trashPath, err = r.apply(scope, &req.Entry, plan)
		if trashPath != "" {
			res.TrashPath = trashPath
		}
		if err == nil || attempt == maxAttempts || !transient(err) {
			break
		}

		logger.Log.Warn("merge action failed, retrying",
			zap.String("path", req.Entry.Path),
			zap.String("action", string(plan.Action)),
			zap.Error(err))

		if !sleep(ctx, r.retryDelay) {
			break
		}
	}
	res.ResolvedAt = time.Now()

	if err != nil {
		res.SetError(apperr.Wrap(apperr.KindMergeActionFailed, err, "%s %s",
			plan.Action, req.Entry.Path))
		logger.Log.Error("merge action failed",
			zap.String("path", req.Entry.Path),
			zap.String("action", string(plan.Action)),
			zap.Int("attempts", res.Attempts),
			zap.Error(err))
		return res
	}

	res.Succeeded = true
	logger.Log.Info("entry merged",
		zap.String("path", req.Entry.Path),
		zap.String("action", string(plan.Action)),
		zap.String("side", string(plan.To)))

	return res
}

func (r *Resolver) applyPlan(scope Scope, entry *model.ComparisonEntry, plan Plan) (string, error) {
	dst := scope.abs(plan.To, entry.Path)

	switch plan.Action {
	case model.ActionTrash:
		return r.trash.Move(scope.ResultID, plan.To, entry.Path, dst)

	case model.ActionCopy:
		return "", copyEntry(scope.abs(plan.From, entry.Path), dst, entry.Record(plan.From), scope.skipBelow(entry.Path))

	case model.ActionOverwrite:
		from, to := entry.Record(plan.From), entry.Record(plan.To)
		if from == nil || to == nil {
			return "", fmt.Errorf("%s is missing a side: %w", entry.Path, fs.ErrInvalid)
		}

		if from.Type != to.Type {
			return r.replace(scope, entry, plan, from)
		}

		// children of a directory are entries of their own
		if from.Type == model.TypeDirectory {
			return "", util.CopyDirAttrs(scope.abs(plan.From, entry.Path), dst)
		}
		return "", copyEntry(scope.abs(plan.From, entry.Path), dst, from, nil)
	}

	return "", nil
}

// replace moves the written side out of the way and copies the other side
// in. A failed copy puts the original back.
func (r *Resolver) replace(scope Scope, entry *model.ComparisonEntry, plan Plan, from *model.FileAttributeRecord) (string, error) {
	src, dst := scope.abs(plan.From, entry.Path), scope.abs(plan.To, entry.Path)

	if _, err := os.Lstat(src); err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}

	trashPath, err := r.trash.Move(scope.ResultID, plan.To, entry.Path, dst)
	if err != nil {
		return "", fmt.Errorf("failed to move aside %s: %w", dst, err)
	}

	err = copyEntry(src, dst, from, scope.skipBelow(entry.Path))
	if err == nil {
		return trashPath, nil
	}

	if rmErr := util.RemoveIfExists(dst); rmErr != nil {
		return trashPath, errors.Join(err, rmErr)
	}
	if rbErr := r.trash.Restore(trashPath, dst); rbErr != nil {
		return trashPath, errors.Join(err, fmt.Errorf("failed to put back %s: %w", dst, rbErr))
	}

	logger.Log.Warn("replacement failed, original put back",
		zap.String("path", entry.Path),
		zap.Error(err))

	return "", err
}

func copyEntry(src, dst string, rec *model.FileAttributeRecord, skip func(string, bool) bool) error {
	if rec == nil {
		return fmt.Errorf("no record for %s: %w", src, fs.ErrInvalid)
	}

	switch rec.Type {
	case model.TypeDirectory:
		return util.CopyTree(src, dst, skip)
	case model.TypeFile:
		return util.CopyFile(src, dst)
	case model.TypeSymlink:
		return util.CopySymlink(src, dst)
	default:
		return fmt.Errorf("cannot copy %s: %w", src, errUnsupportedType)
	}
}

// coveringAncestor finds the outermost directory entry in the batch whose
// plan already moves entry i along with it.
func coveringAncestor(reqs []Request, plans []*Plan, byPath map[string]int, i int) (int, bool) {
	p := plans[i]
	if p.Action != model.ActionCopy && p.Action != model.ActionTrash {
		return 0, false
	}

	found, ok := 0, false
	for dir := path.Dir(reqs[i].Entry.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
		j, exists := byPath[dir]
		if !exists {
			continue
		}

		if covers(&reqs[j].Entry, *plans[j], *p) {
			found, ok = j, true
		}
	}

	return found, ok
}

// covers reports whether executing parent on the directory entry dir also
// carries out child on an entry below it.
func covers(dir *model.ComparisonEntry, parent, child Plan) bool {
	switch parent.Action {
	case model.ActionCopy:
		return child.Action == model.ActionCopy && child.To == parent.To && dir.Record(parent.From).IsDir()
	case model.ActionTrash:
		return child.Action == model.ActionTrash && child.To == parent.To && dir.Record(parent.To).IsDir()
	case model.ActionOverwrite:
		// a directory replaced by a non-directory goes to the trash whole
		return child.Action == model.ActionTrash && child.To == parent.To &&
			dir.Record(parent.To).IsDir() && !dir.Record(parent.From).IsDir()
	}
	return false
}

// Inherited returns resolutions for the entries below req's entry that the
// successful resolution res already carried out. Candidates are the entries
// still waiting for a resolution.
func Inherited(req Request, res model.MergeResolution, candidates []model.ComparisonEntry) []model.MergeResolution {
	if !res.Succeeded {
		return nil
	}

	parent, err := PlanFor(&req.Entry, req.Choice)
	if err != nil {
		return nil
	}

	prefix := req.Entry.Path + "/"
	var out []model.MergeResolution
	for i := range candidates {
		e := &candidates[i]
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}

		p, err := PlanFor(e, req.Choice)
		if err != nil || !covers(&req.Entry, parent, p) {
			continue
		}
		out = append(out, inherit(Request{Entry: *e, Choice: req.Choice, Auto: req.Auto}, p, req.Entry.Path, res))
	}

	return out
}

func inherit(req Request, plan Plan, ancestor string, parent model.MergeResolution) model.MergeResolution {
	res := model.MergeResolution{
		ResultID:   parent.ResultID,
		EntryPath:  req.Entry.Path,
		Choice:     plan.Choice,
		Action:     plan.Action,
		Side:       plan.To,
		Auto:       req.Auto,
		Attempts:   parent.Attempts,
		Succeeded:  parent.Succeeded,
		ResolvedAt: parent.ResolvedAt,
	}

	if parent.TrashPath != "" {
		rel := req.Entry.Path[len(ancestor)+1:]
		res.TrashPath = filepath.Join(parent.TrashPath, filepath.FromSlash(rel))
	}
	if !parent.Succeeded {
		res.SetError(fmt.Errorf("via %s: %s", ancestor, parent.Error))
	}

	return res
}

// Reopened returns RESTORE resolutions for the entries whose trashed items
// came back inside the item that res restored from trashPath.
func Reopened(res model.MergeResolution, trashPath string, latest map[string]*model.MergeResolution) []model.MergeResolution {
	if !res.Succeeded || trashPath == "" {
		return nil
	}

	prefix := filepath.Clean(trashPath) + string(filepath.Separator)
	var out []model.MergeResolution
	for p, last := range latest {
		if p == res.EntryPath || last.Action == model.ActionRestore || !strings.HasPrefix(last.TrashPath, prefix) {
			continue
		}

		out = append(out, model.MergeResolution{
			ResultID:   res.ResultID,
			EntryPath:  p,
			Choice:     last.Choice,
			Action:     model.ActionRestore,
			Side:       last.Side,
			Attempts:   res.Attempts,
			Succeeded:  true,
			ResolvedAt: res.ResolvedAt,
		})
	}
	slices.SortFunc(out, func(a, b model.MergeResolution) int {
		return strings.Compare(a.EntryPath, b.EntryPath)
	})

	return out
}

// transient reports whether retrying err might succeed.
func transient(err error) bool {
	for _, permanent := range []error{
		fs.ErrNotExist, fs.ErrPermission, fs.ErrExist, fs.ErrInvalid,
		context.Canceled, context.DeadlineExceeded, errUnsupportedType,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}

	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

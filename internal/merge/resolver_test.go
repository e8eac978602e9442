package merge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assurance/internal/compare"
	"assurance/internal/apperr"
	"assurance/internal/model"
	"assurance/internal/pipeline"
	"assurance/internal/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	scope    Scope
	resolver *Resolver
	trashDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()

	def := model.ScanDefinition{
		Name:       "test",
		SourcePath: filepath.Join(base, "src"),
		TargetPath: filepath.Join(base, "dst"),
	}
	require.NoError(t, os.MkdirAll(def.SourcePath, 0755))
	require.NoError(t, os.MkdirAll(def.TargetPath, 0755))

	trashDir := filepath.Join(base, "trash")
	r := NewResolver(NewTrash(trashDir), 4)
	r.retryDelay = time.Millisecond

	return &fixture{
		scope:    Scope{ResultID: "result-1", Definition: def.Snapshot()},
		resolver: r,
		trashDir: trashDir,
	}
}

func (f *fixture) write(t *testing.T, side model.Side, rel, content string) {
	t.Helper()
	p := f.scope.abs(side, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func (f *fixture) read(t *testing.T, side model.Side, rel string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(f.scope.abs(side, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false
	}
	require.NoError(t, err)
	return string(data), true
}

func (f *fixture) entries(t *testing.T) map[string]model.ComparisonEntry {
	t.Helper()
	ctx := context.Background()

	collect := func(root string) []model.FileAttributeRecord {
		s, err := scanner.New(root, scanner.Options{Filter: f.scope.Filter})
		require.NoError(t, err)
		records, err := s.Collect(ctx)
		require.NoError(t, err)
		return records
	}

	out := map[string]model.ComparisonEntry{}
	for _, e := range compare.New(compare.Policy{}).Compare(
		collect(f.scope.Definition.SourcePath), collect(f.scope.Definition.TargetPath)) {
		out[e.Path] = e
	}
	return out
}

func TestResolveCopiesSourceOnly(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "a.txt", "hello")

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{
		Entry: f.entries(t)["a.txt"], Choice: model.ChoiceUseSource,
	})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.Equal(t, model.ActionCopy, res.Action)
	assert.Equal(t, model.SideTarget, res.Side)
	assert.Equal(t, 1, res.Attempts)

	content, ok := f.read(t, model.SideTarget, "a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", content)
	assert.Equal(t, model.StatusIdentical, f.entries(t)["a.txt"].Status)
}

func TestResolveOverwritesDiffering(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "a.txt", "short")
	f.write(t, model.SideTarget, "a.txt", "much longer")

	entry := f.entries(t)["a.txt"]
	require.Equal(t, model.StatusDiffering, entry.Status)

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseTarget})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, model.ActionOverwrite, res.Action)

	content, _ := f.read(t, model.SideSource, "a.txt")
	assert.Equal(t, "much longer", content)
}

func TestResolveTargetOnlyUseTargetIsNoop(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideTarget, "b.txt", "keep")

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{
		Entry: f.entries(t)["b.txt"], Choice: model.ChoiceUseTarget,
	})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.Equal(t, model.ActionNone, res.Action)
	assert.Zero(t, res.Attempts)

	_, inSource := f.read(t, model.SideSource, "b.txt")
	assert.False(t, inSource)
	content, _ := f.read(t, model.SideTarget, "b.txt")
	assert.Equal(t, "keep", content)
}

func TestTrashAndRestore(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideTarget, "docs/b.txt", "precious")

	entry := f.entries(t)["docs/b.txt"]
	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
	require.NoError(t, err)
	require.True(t, res.Succeeded)
	assert.Equal(t, model.ActionTrash, res.Action)
	assert.Equal(t, filepath.Join(f.trashDir, "result-1", "target", "docs", "b.txt"), res.TrashPath)

	_, ok := f.read(t, model.SideTarget, "docs/b.txt")
	assert.False(t, ok)

	restored, err := f.resolver.Restore(f.scope, &entry, &res)
	require.NoError(t, err)
	assert.True(t, restored.Succeeded)
	assert.Equal(t, model.ActionRestore, restored.Action)
	assert.False(t, restored.Resolves())

	content, ok := f.read(t, model.SideTarget, "docs/b.txt")
	require.True(t, ok)
	assert.Equal(t, "precious", content)

	_, err = f.resolver.Restore(f.scope, &entry, &restored)
	assert.Error(t, err)
}

func TestOverwriteDifferentTypeMovesAside(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "x", "file now")
	f.write(t, model.SideTarget, "x/inner.txt", "was a dir")

	entry := f.entries(t)["x"]
	require.Equal(t, []model.AttributeField{model.FieldType}, entry.Differences)

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
	require.NoError(t, err)
	require.True(t, res.Succeeded, res.Error)
	assert.NotEmpty(t, res.TrashPath)

	content, _ := f.read(t, model.SideTarget, "x")
	assert.Equal(t, "file now", content)

	data, err := os.ReadFile(filepath.Join(res.TrashPath, "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "was a dir", string(data))
}

func TestRetryOnceOnTransientFailure(t *testing.T) {
	entry := model.ComparisonEntry{
		Path:   "a.txt",
		Source: &model.FileAttributeRecord{Path: "a.txt", Type: model.TypeFile},
		Status: model.StatusSourceOnly,
	}

	t.Run("transient then success", func(t *testing.T) {
		f := newFixture(t)
		var calls atomic.Int32
		f.resolver.apply = func(Scope, *model.ComparisonEntry, Plan) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("device busy")
			}
			return "", nil
		}

		res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
		require.NoError(t, err)
		assert.True(t, res.Succeeded)
		assert.Equal(t, 2, res.Attempts)
	})

	t.Run("transient twice", func(t *testing.T) {
		f := newFixture(t)
		var calls atomic.Int32
		f.resolver.apply = func(Scope, *model.ComparisonEntry, Plan) (string, error) {
			calls.Add(1)
			return "", errors.New("device busy")
		}

		res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
		require.NoError(t, err)
		assert.False(t, res.Succeeded)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, int32(2), calls.Load())
		assert.Contains(t, res.Error, "device busy")
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.apply = func(Scope, *model.ComparisonEntry, Plan) (string, error) {
			return "", fmt.Errorf("open: %w", fs.ErrPermission)
		}

		res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
		require.NoError(t, err)
		assert.False(t, res.Succeeded)
		assert.Equal(t, 1, res.Attempts)
	})
}

func TestResolveAllCoversChildren(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "dir/a.txt", "a")
	f.write(t, model.SideSource, "dir/sub/b.txt", "b")
	f.write(t, model.SideSource, "top.txt", "t")

	entries := f.entries(t)
	var reqs []Request
	for _, p := range []string{"dir", "dir/a.txt", "dir/sub", "dir/sub/b.txt", "top.txt"} {
		reqs = append(reqs, Request{Entry: entries[p], Choice: model.ChoiceUseSource, Auto: true})
	}

	var calls atomic.Int32
	apply := f.resolver.apply
	f.resolver.apply = func(s Scope, e *model.ComparisonEntry, p Plan) (string, error) {
		calls.Add(1)
		return apply(s, e, p)
	}

	results := f.resolver.ResolveAll(context.Background(), f.scope, reqs)
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, reqs[i].Entry.Path, res.EntryPath)
		assert.True(t, res.Succeeded, res.EntryPath)
		assert.True(t, res.Auto)
	}
	assert.Equal(t, int32(2), calls.Load(), "only dir and top.txt are copied directly")

	for _, e := range f.entries(t) {
		assert.Equal(t, model.StatusIdentical, e.Status, e.Path)
	}
}

func TestResolveAllSkipsRejected(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "a.txt", "1")
	f.write(t, model.SideTarget, "a.txt", "22")

	results := f.resolver.ResolveAll(context.Background(), f.scope, []Request{
		{Entry: f.entries(t)["a.txt"], Choice: model.ChoiceBoth},
	})
	assert.Empty(t, results)
}

func TestResolveAllStopsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "a.txt", "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.resolver.ResolveAll(ctx, f.scope, []Request{
		{Entry: f.entries(t)["a.txt"], Choice: model.ChoiceUseSource},
	})
	assert.Empty(t, results)
}

func TestPathLocksSerialise(t *testing.T) {
	locks := newPathLocks()
	var active, maxActive atomic.Int32

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("/same/path")
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, locks.locks)
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(errors.New("i/o timeout")))
	assert.False(t, transient(fmt.Errorf("x: %w", fs.ErrNotExist)))
	assert.False(t, transient(context.Canceled))
	assert.False(t, transient(errUnsupportedType))
}

func TestUnreadableSourceLeavesTargetAlone(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideTarget, "a.txt", "keep me")

	entry := model.ComparisonEntry{
		Path:        "a.txt",
		Source:      &model.FileAttributeRecord{Path: "a.txt", Type: model.TypeOther, Error: "lstat a.txt: no such file or directory"},
		Target:      f.entries(t)["a.txt"].Target,
		Status:      model.StatusDiffering,
		Differences: []model.AttributeField{model.FieldReadError},
	}

	_, ok := AutoChoice(model.StrategySourceWins, &entry)
	assert.False(t, ok)

	_, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	content, ok := f.read(t, model.SideTarget, "a.txt")
	require.True(t, ok)
	assert.Equal(t, "keep me", content)
}

func TestFailedReplacementPutsOriginalBack(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideSource, "x", "plain file")
	f.write(t, model.SideTarget, "x/inner.txt", "was a dir")

	entry := f.entries(t)["x"]
	// the source changed kind after the scan: it is no longer a link
	entry.Source.Type = model.TypeSymlink

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entry, Choice: model.ChoiceUseSource})
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Empty(t, res.TrashPath)
	assert.NotEmpty(t, res.Error)

	content, ok := f.read(t, model.SideTarget, "x/inner.txt")
	require.True(t, ok)
	assert.Equal(t, "was a dir", content)
}

func TestRestoreAfterFailedResolution(t *testing.T) {
	f := newFixture(t)
	f.write(t, model.SideTarget, "a.txt", "precious")
	entry := f.entries(t)["a.txt"]

	trashPath, err := f.resolver.trash.Move(f.scope.ResultID, model.SideTarget, "a.txt", f.scope.abs(model.SideTarget, "a.txt"))
	require.NoError(t, err)

	failed := model.MergeResolution{
		EntryPath: "a.txt",
		Choice:    model.ChoiceUseSource,
		Action:    model.ActionOverwrite,
		Side:      model.SideTarget,
		TrashPath: trashPath,
	}
	failed.SetError(errors.New("copy failed"))

	restored, err := f.resolver.Restore(f.scope, &entry, &failed)
	require.NoError(t, err)
	assert.True(t, restored.Succeeded, restored.Error)

	content, ok := f.read(t, model.SideTarget, "a.txt")
	require.True(t, ok)
	assert.Equal(t, "precious", content)

	_, err = f.resolver.Restore(f.scope, &entry, &model.MergeResolution{Action: model.ActionCopy, Succeeded: true})
	assert.Error(t, err)
}

func TestCopyLeavesFilteredContentBehind(t *testing.T) {
	f := newFixture(t)
	f.scope.Filter = pipeline.NewFilter([]string{".DS_Store"}, nil, []string{"**/cache"})
	f.write(t, model.SideSource, "d/keep.txt", "k")
	f.write(t, model.SideSource, "d/.DS_Store", "junk")
	f.write(t, model.SideSource, "d/cache/blob", "big")

	entries := f.entries(t)
	require.Len(t, entries, 2)

	res, err := f.resolver.Resolve(context.Background(), f.scope, Request{Entry: entries["d"], Choice: model.ChoiceUseSource})
	require.NoError(t, err)
	require.True(t, res.Succeeded, res.Error)

	_, ok := f.read(t, model.SideTarget, "d/keep.txt")
	assert.True(t, ok)
	_, ok = f.read(t, model.SideTarget, "d/.DS_Store")
	assert.False(t, ok)
	_, err = os.Stat(f.scope.abs(model.SideTarget, "d/cache"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReplacedDirectoryCoversItsChildren(t *testing.T) {
	setup := func(t *testing.T) (*fixture, map[string]model.ComparisonEntry) {
		f := newFixture(t)
		f.write(t, model.SideSource, "x", "file now")
		f.write(t, model.SideTarget, "x/inner.txt", "was a dir")
		f.write(t, model.SideTarget, "x/sub/deep.txt", "deep")

		entries := f.entries(t)
		require.Equal(t, model.StatusTargetOnly, entries["x/inner.txt"].Status)
		return f, entries
	}

	t.Run("batch", func(t *testing.T) {
		f, entries := setup(t)

		var reqs []Request
		for _, p := range []string{"x", "x/inner.txt", "x/sub", "x/sub/deep.txt"} {
			reqs = append(reqs, Request{Entry: entries[p], Choice: model.ChoiceUseSource})
		}

		var calls atomic.Int32
		apply := f.resolver.apply
		f.resolver.apply = func(s Scope, e *model.ComparisonEntry, p Plan) (string, error) {
			calls.Add(1)
			return apply(s, e, p)
		}

		results := f.resolver.ResolveAll(context.Background(), f.scope, reqs)
		require.Len(t, results, 4)
		assert.Equal(t, int32(1), calls.Load())

		parent := results[0]
		require.True(t, parent.Succeeded, parent.Error)
		for _, res := range results[1:] {
			assert.True(t, res.Succeeded, res.EntryPath)
			assert.Equal(t, model.ActionTrash, res.Action)
			assert.Equal(t, filepath.Join(parent.TrashPath, filepath.FromSlash(res.EntryPath[len("x/"):])), res.TrashPath)
		}

		data, err := os.ReadFile(results[3].TrashPath)
		require.NoError(t, err)
		assert.Equal(t, "deep", string(data))
	})

	t.Run("single", func(t *testing.T) {
		f, entries := setup(t)

		req := Request{Entry: entries["x"], Choice: model.ChoiceUseSource}
		res, err := f.resolver.Resolve(context.Background(), f.scope, req)
		require.NoError(t, err)
		require.True(t, res.Succeeded, res.Error)

		pending := []model.ComparisonEntry{entries["x/inner.txt"], entries["x/sub"], entries["x/sub/deep.txt"], entries["x"]}
		inherited := Inherited(req, res, pending)
		require.Len(t, inherited, 3)
		for _, child := range inherited {
			assert.True(t, child.Resolves(), child.EntryPath)
			assert.Equal(t, model.SideTarget, child.Side)
		}

		failed := res
		failed.Succeeded = false
		assert.Empty(t, Inherited(req, failed, pending))
	})
}

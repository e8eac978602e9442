package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assurance/internal/apperr"
	"assurance/internal/compare"
	"assurance/internal/config"
	"assurance/internal/logger"
	"assurance/internal/merge"
	"assurance/internal/model"
	"assurance/internal/pipeline"
	"assurance/internal/repository"
	"assurance/internal/scanner"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ScanManager runs scans of stored definitions and applies merge resolutions
// to stored results. At most one scan per definition runs at a time.
type ScanManager struct {
	mu        sync.RWMutex
	scans     map[string]*ScanState
	cfg       *config.Config
	defRepo   *repository.DefinitionRepository
	resRepo   *repository.ResultRepository
	resolver  *merge.Resolver
	resolveMu sync.Mutex
	wg        sync.WaitGroup
}

func NewScanManager(cfg *config.Config) *ScanManager {
	return &ScanManager{
		scans:    make(map[string]*ScanState),
		cfg:      cfg,
		defRepo:  repository.NewDefinitionRepository(),
		resRepo:  repository.NewResultRepository(),
		resolver: merge.NewResolver(merge.NewTrash(cfg.DeletedItemsDir), cfg.Workers),
	}
}

// Run scans the definition and blocks until the result is stored. A
// cancelled run stores the partial result.
func (m *ScanManager) Run(ctx context.Context, definitionID string) (model.ScanResult, error) {
	def, err := m.defRepo.GetByID(definitionID)
	if err != nil {
		return model.ScanResult{}, err
	}

	state, ctx, err := m.register(ctx, def)
	if err != nil {
		return model.ScanResult{}, err
	}
	defer m.unregister(def.ID)

	return m.run(ctx, state, def)
}

// Start launches a scan in the background.
func (m *ScanManager) Start(definitionID string) (model.ScanSnapshot, error) {
	def, err := m.defRepo.GetByID(definitionID)
	if err != nil {
		return model.ScanSnapshot{}, err
	}

	state, ctx, err := m.register(context.Background(), def)
	if err != nil {
		return model.ScanSnapshot{}, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.unregister(def.ID)

		if _, err := m.run(ctx, state, def); err != nil {
			logger.Log.Error("scan failed",
				zap.String("definition", def.ID),
				zap.Error(err))
		}
	}()

	return state.Snapshot(), nil
}

func (m *ScanManager) Cancel(definitionID string) error {
	m.mu.RLock()
	state, exists := m.scans[definitionID]
	m.mu.RUnlock()

	if !exists {
		return apperr.NotFound("running scan of definition", definitionID)
	}

	state.Cancel()
	return nil
}

// StopAll cancels every running scan and waits for background scans to
// store their partial results.
func (m *ScanManager) StopAll() {
	m.mu.RLock()
	for _, state := range m.scans {
		state.Cancel()
	}
	m.mu.RUnlock()

	m.wg.Wait()
}

func (m *ScanManager) Snapshots() []model.ScanSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]model.ScanSnapshot, 0, len(m.scans))
	for _, state := range m.scans {
		snaps = append(snaps, state.Snapshot())
	}

	return snaps
}

func (m *ScanManager) AddDefinition(def *model.ScanDefinition) error {
	def.ID = ""
	return m.defRepo.Add(def)
}

// UpdateDefinition rejects changes to a definition that is being scanned.
func (m *ScanManager) UpdateDefinition(def *model.ScanDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.scans[def.ID]; running {
		return apperr.New(apperr.KindScanInProgress, "definition %s is being scanned", def.ID)
	}

	return m.defRepo.Update(def)
}

func (m *ScanManager) DeleteDefinition(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.scans[id]; running {
		return apperr.New(apperr.KindScanInProgress, "definition %s is being scanned", id)
	}

	return m.defRepo.Delete(id)
}

func (m *ScanManager) register(parent context.Context, def model.ScanDefinition) (*ScanState, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.scans[def.ID]; exists {
		return nil, nil, apperr.New(apperr.KindScanInProgress, "definition %s is already being scanned", def.ID)
	}

	ctx, cancel := context.WithCancel(parent)
	state := NewScanState(def, cancel)
	m.scans[def.ID] = state

	return state, ctx, nil
}

func (m *ScanManager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.scans[id]; ok {
		state.Cancel()
		delete(m.scans, id)
	}
}

func (m *ScanManager) run(ctx context.Context, state *ScanState, def model.ScanDefinition) (model.ScanResult, error) {
	snap := def.Snapshot()
	opts := scanner.Options{
		IncludeAdvancedAttributes: def.IncludeAdvancedAttributes,
		DeepScan:                  def.DeepScan,
		Filter:                    m.filterFor(def.Exclusions),
	}

	src, err := scanner.New(def.SourcePath, opts)
	if err != nil {
		return model.ScanResult{}, err
	}
	dst, err := scanner.New(def.TargetPath, opts)
	if err != nil {
		return model.ScanResult{}, err
	}

	logger.Log.Info("scan started",
		zap.String("definition", def.ID),
		zap.String("src", def.SourcePath),
		zap.String("dst", def.TargetPath))

	startedAt := time.Now()
	var sourceRecords, targetRecords []model.FileAttributeRecord

	var g errgroup.Group
	g.Go(func() error {
		return src.Walk(ctx, func(rec model.FileAttributeRecord) bool {
			sourceRecords = append(sourceRecords, rec)
			state.RecordEntry(model.SideSource)
			return true
		})
	})
	g.Go(func() error {
		return dst.Walk(ctx, func(rec model.FileAttributeRecord) bool {
			targetRecords = append(targetRecords, rec)
			state.RecordEntry(model.SideTarget)
			return true
		})
	})
	if err := g.Wait(); err != nil {
		return model.ScanResult{}, err
	}

	partial := ctx.Err() != nil

	state.SetPhase(model.PhaseComparing)
	entries := compare.New(compare.PolicyFor(snap)).Compare(sourceRecords, targetRecords)

	state.SetPhase(model.PhaseSaving)
	result := model.ScanResult{
		DefinitionID: def.ID,
		Definition:   snap,
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		Partial:      partial,
		Entries:      entries,
	}
	if err := m.resRepo.Save(&result); err != nil {
		return model.ScanResult{}, fmt.Errorf("failed to save result: %w", err)
	}

	logger.Log.Info("scan completed",
		zap.String("definition", def.ID),
		zap.String("result", result.ID),
		zap.Bool("partial", partial),
		zap.Int("entries", len(entries)),
		zap.Int("differing", result.Differing),
		zap.Int("source_only", result.SourceOnly),
		zap.Int("target_only", result.TargetOnly))

	if def.AutoMerge && !partial {
		state.SetPhase(model.PhaseMerging)
		if _, _, err := m.AutoMerge(ctx, result.ID); err != nil {
			logger.Log.Warn("auto merge failed",
				zap.String("result", result.ID),
				zap.Error(err))
		}
	}

	return m.resRepo.GetByID(result.ID)
}

// Resolve applies one choice to one entry of a stored result.
func (m *ScanManager) Resolve(ctx context.Context, resultID, path string, choice model.MergeChoice) (model.MergeResolution, model.ResolutionStatus, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	result, entry, err := m.pendingEntry(resultID, path)
	if err != nil {
		return model.MergeResolution{}, "", err
	}

	req := merge.Request{Entry: *entry, Choice: choice}
	res, err := m.resolver.Resolve(ctx, m.scopeOf(result), req)
	if err != nil {
		return model.MergeResolution{}, "", err
	}

	status, err := m.resRepo.AppendResolution(&res)
	if err != nil {
		return res, "", err
	}

	// entries below a copied or trashed directory went along with it
	for _, child := range merge.Inherited(req, res, pendingEntries(result)) {
		if status, err = m.resRepo.AppendResolution(&child); err != nil {
			return res, "", err
		}
	}

	return res, status, nil
}

// MergeAll applies choice to every unresolved entry it is applicable to.
func (m *ScanManager) MergeAll(ctx context.Context, resultID string, choice model.MergeChoice) ([]model.MergeResolution, model.ResolutionStatus, error) {
	if !choice.Valid() {
		return nil, "", apperr.Validation("choice", "unknown choice %q", choice)
	}

	return m.mergeMany(ctx, resultID, func(model.MergeStrategy, *model.ComparisonEntry) (model.MergeChoice, bool, bool) {
		return choice, false, true
	})
}

// AutoMerge resolves entries according to the strategy of the definition
// that produced the result.
func (m *ScanManager) AutoMerge(ctx context.Context, resultID string) ([]model.MergeResolution, model.ResolutionStatus, error) {
	return m.mergeMany(ctx, resultID, func(strategy model.MergeStrategy, e *model.ComparisonEntry) (model.MergeChoice, bool, bool) {
		choice, ok := merge.AutoChoice(strategy, e)
		return choice, true, ok
	})
}

type choose func(model.MergeStrategy, *model.ComparisonEntry) (choice model.MergeChoice, auto bool, ok bool)

func (m *ScanManager) mergeMany(ctx context.Context, resultID string, pick choose) ([]model.MergeResolution, model.ResolutionStatus, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	result, err := m.resRepo.GetByID(resultID)
	if err != nil {
		return nil, "", err
	}

	latest := model.LatestResolutions(result.Resolutions)

	var reqs []merge.Request
	for i := range result.Entries {
		e := &result.Entries[i]
		if !e.NeedsResolution() || latest[e.Path].Resolves() {
			continue
		}

		choice, auto, ok := pick(result.Definition.Strategy, e)
		if !ok {
			continue
		}
		reqs = append(reqs, merge.Request{Entry: *e, Choice: choice, Auto: auto})
	}

	resolutions := m.resolver.ResolveAll(ctx, m.scopeOf(result), reqs)

	status := result.Status
	for i := range resolutions {
		status, err = m.resRepo.AppendResolution(&resolutions[i])
		if err != nil {
			return resolutions[:i], "", err
		}
	}

	logger.Log.Info("entries merged",
		zap.String("result", resultID),
		zap.Int("requested", len(reqs)),
		zap.Int("resolved", len(resolutions)),
		zap.String("status", string(status)))

	return resolutions, status, nil
}

// Restore moves an entry trashed by an earlier resolution back into place
// and reopens it.
func (m *ScanManager) Restore(resultID, path string) (model.MergeResolution, model.ResolutionStatus, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	result, err := m.resRepo.GetByID(resultID)
	if err != nil {
		return model.MergeResolution{}, "", err
	}

	entry, ok := result.Entry(path)
	if !ok {
		return model.MergeResolution{}, "", apperr.NotFound("entry", path)
	}

	latest := model.LatestResolutions(result.Resolutions)
	last := latest[path]
	res, err := m.resolver.Restore(m.scopeOf(result), entry, last)
	if err != nil {
		return model.MergeResolution{}, "", err
	}

	status, err := m.resRepo.AppendResolution(&res)
	if err != nil {
		return res, "", err
	}

	for _, child := range merge.Reopened(res, last.TrashPath, latest) {
		if status, err = m.resRepo.AppendResolution(&child); err != nil {
			return res, "", err
		}
	}

	return res, status, nil
}

func (m *ScanManager) pendingEntry(resultID, path string) (model.ScanResult, *model.ComparisonEntry, error) {
	result, err := m.resRepo.GetByID(resultID)
	if err != nil {
		return result, nil, err
	}

	entry, ok := result.Entry(path)
	if !ok {
		return result, nil, apperr.NotFound("entry", path)
	}
	if result.Resolved(path) {
		return result, nil, apperr.Validation("path", "%s is already resolved", path)
	}

	return result, entry, nil
}

func pendingEntries(result model.ScanResult) []model.ComparisonEntry {
	latest := model.LatestResolutions(result.Resolutions)

	var pending []model.ComparisonEntry
	for _, e := range result.Entries {
		if e.NeedsResolution() && !latest[e.Path].Resolves() {
			pending = append(pending, e)
		}
	}

	return pending
}

func (m *ScanManager) filterFor(exclusions []string) *pipeline.Filter {
	return pipeline.NewFilter(m.cfg.IgnoredFileNames, m.cfg.IgnoredExtensions, exclusions)
}

// scopeOf filters merges the same way the result's scan was filtered.
func (m *ScanManager) scopeOf(result model.ScanResult) merge.Scope {
	return merge.Scope{
		ResultID:   result.ID,
		Definition: result.Definition,
		Filter:     m.filterFor(result.Definition.Exclusions),
	}
}

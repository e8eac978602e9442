package daemon

import (
	"context"
	"sync"
	"time"

	"assurance/internal/model"
)

type ScanState struct {
	mu           sync.RWMutex
	DefinitionID string
	Name         string
	Source       string
	Target       string
	Phase        model.ScanPhase
	StartedAt    time.Time
	SourceCount  int
	TargetCount  int
	cancel       context.CancelFunc
}

func NewScanState(def model.ScanDefinition, cancel context.CancelFunc) *ScanState {
	return &ScanState{
		DefinitionID: def.ID,
		Name:         def.Name,
		Source:       def.SourcePath,
		Target:       def.TargetPath,
		Phase:        model.PhaseScanning,
		StartedAt:    time.Now(),
		cancel:       cancel,
	}
}

func (s *ScanState) RecordEntry(side model.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if side == model.SideSource {
		s.SourceCount++
	} else {
		s.TargetCount++
	}
}

func (s *ScanState) SetPhase(phase model.ScanPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = phase
}

func (s *ScanState) Cancel() {
	s.cancel()
}

func (s *ScanState) Snapshot() model.ScanSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.ScanSnapshot{
		DefinitionID: s.DefinitionID,
		Name:         s.Name,
		Source:       s.Source,
		Target:       s.Target,
		Phase:        s.Phase,
		StartedAt:    s.StartedAt,
		SourceCount:  s.SourceCount,
		TargetCount:  s.TargetCount,
	}
}

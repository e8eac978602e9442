package model

import "time"

type ScanPhase string

const (
	PhaseScanning  ScanPhase = "SCANNING"
	PhaseComparing ScanPhase = "COMPARING"
	PhaseSaving    ScanPhase = "SAVING"
	PhaseMerging   ScanPhase = "MERGING"
)

type ScanSnapshot struct {
	DefinitionID string    `json:"definition_id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	Phase        ScanPhase `json:"phase"`
	StartedAt    time.Time `json:"started_at"`
	SourceCount  int       `json:"source_count"`
	TargetCount  int       `json:"target_count"`
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "UNRESOLVED"
	ResolutionPartial    ResolutionStatus = "PARTIALLY_RESOLVED"
	ResolutionResolved   ResolutionStatus = "RESOLVED"
)

type ScanResult struct {
	ID           string             `gorm:"primaryKey" json:"id"`
	DefinitionID string             `gorm:"not null;index" json:"definition_id"`
	Definition   DefinitionSnapshot `gorm:"serializer:json" json:"definition"`
	StartedAt    time.Time          `gorm:"not null" json:"started_at"`
	CompletedAt  time.Time          `gorm:"not null;index" json:"completed_at"`
	// Partial marks a run that was cancelled before both walks finished.
	Partial     bool              `json:"partial"`
	Status      ResolutionStatus  `gorm:"not null;default:'UNRESOLVED'" json:"status"`
	Identical   int               `json:"identical"`
	Differing   int               `json:"differing"`
	SourceOnly  int               `json:"source_only"`
	TargetOnly  int               `json:"target_only"`
	Entries     []ComparisonEntry `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
	Resolutions []MergeResolution `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE" json:"resolutions,omitempty"`
}

func (r *ScanResult) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Tally recomputes the per-status counters from Entries.
func (r *ScanResult) Tally() {
	r.Identical, r.Differing, r.SourceOnly, r.TargetOnly = 0, 0, 0, 0
	for _, e := range r.Entries {
		switch e.Status {
		case StatusIdentical:
			r.Identical++
		case StatusDiffering:
			r.Differing++
		case StatusSourceOnly:
			r.SourceOnly++
		case StatusTargetOnly:
			r.TargetOnly++
		}
	}
}

func (r *ScanResult) Entry(path string) (*ComparisonEntry, bool) {
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			return &r.Entries[i], true
		}
	}
	return nil, false
}

// Resolved reports whether the latest resolution recorded for path leaves
// the entry resolved.
func (r *ScanResult) Resolved(path string) bool {
	return LatestResolutions(r.Resolutions)[path].Resolves()
}

// LatestResolutions indexes resolutions by entry path, keeping the most
// recent one per path. Input order is append order.
func LatestResolutions(resolutions []MergeResolution) map[string]*MergeResolution {
	latest := make(map[string]*MergeResolution, len(resolutions))
	for i := range resolutions {
		latest[resolutions[i].EntryPath] = &resolutions[i]
	}
	return latest
}

// ComputeStatus derives the resolution status of a result from its entries
// and the resolutions appended to it so far.
func ComputeStatus(entries []ComparisonEntry, resolutions []MergeResolution) ResolutionStatus {
	latest := LatestResolutions(resolutions)

	pending, resolved := 0, 0
	for _, e := range entries {
		if !e.NeedsResolution() {
			continue
		}
		pending++
		if latest[e.Path].Resolves() {
			resolved++
		}
	}

	switch {
	case resolved == pending:
		return ResolutionResolved
	case resolved == 0:
		return ResolutionUnresolved
	default:
		return ResolutionPartial
	}
}

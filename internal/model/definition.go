package model

import (
	"path/filepath"
	"strings"
	"time"

	"assurance/internal/apperr"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MergeStrategy string

const (
	StrategySourceWins MergeStrategy = "SOURCE_WINS"
	StrategyTargetWins MergeStrategy = "TARGET_WINS"
	StrategyBoth       MergeStrategy = "BOTH"
)

func (s MergeStrategy) Valid() bool {
	switch s {
	case StrategySourceWins, StrategyTargetWins, StrategyBoth:
		return true
	}
	return false
}

type ScanDefinition struct {
	ID                        string        `gorm:"primaryKey" json:"id" yaml:"-"`
	Name                      string        `gorm:"not null" json:"name" yaml:"name"`
	SourcePath                string        `gorm:"not null" json:"source_path" yaml:"source_path"`
	TargetPath                string        `gorm:"not null" json:"target_path" yaml:"target_path"`
	Strategy                  MergeStrategy `gorm:"not null;default:'SOURCE_WINS'" json:"strategy" yaml:"strategy"`
	IncludeExtendedTimestamps bool          `json:"include_extended_timestamps" yaml:"include_extended_timestamps"`
	IncludeAdvancedAttributes bool          `json:"include_advanced_attributes" yaml:"include_advanced_attributes"`
	AutoMerge                 bool          `json:"auto_merge" yaml:"auto_merge"`
	DeepScan                  bool          `json:"deep_scan" yaml:"deep_scan"`
	Exclusions                []string      `gorm:"serializer:json" json:"exclusions" yaml:"exclusions,omitempty"`
	CreatedAt                 time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt                 time.Time     `json:"updated_at" yaml:"-"`
}

func (d *ScanDefinition) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Normalize fills defaults and cleans the paths in place.
func (d *ScanDefinition) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if d.SourcePath != "" {
		d.SourcePath = filepath.Clean(d.SourcePath)
	}
	if d.TargetPath != "" {
		d.TargetPath = filepath.Clean(d.TargetPath)
	}
	if d.Strategy == "" {
		d.Strategy = StrategySourceWins
	}
}

// Validate rejects definitions that cannot be scanned. It does not touch the
// filesystem; inaccessible roots are reported when a scan starts.
func (d *ScanDefinition) Validate() error {
	if d.Name == "" {
		return apperr.Validation("name", "must not be empty")
	}
	if d.SourcePath == "" {
		return apperr.Validation("source_path", "must not be empty")
	}
	if d.TargetPath == "" {
		return apperr.Validation("target_path", "must not be empty")
	}
	if !filepath.IsAbs(d.SourcePath) {
		return apperr.Validation("source_path", "must be absolute, got %q", d.SourcePath)
	}
	if !filepath.IsAbs(d.TargetPath) {
		return apperr.Validation("target_path", "must be absolute, got %q", d.TargetPath)
	}
	if d.SourcePath == d.TargetPath {
		return apperr.Validation("target_path", "must differ from source_path")
	}
	if within(d.SourcePath, d.TargetPath) || within(d.TargetPath, d.SourcePath) {
		return apperr.Validation("target_path", "source and target must not contain each other")
	}
	if !d.Strategy.Valid() {
		return apperr.Validation("strategy", "unknown merge strategy %q", d.Strategy)
	}
	for _, pattern := range d.Exclusions {
		if !doublestar.ValidatePattern(pattern) {
			return apperr.Validation("exclusions", "malformed pattern %q", pattern)
		}
	}

	return nil
}

func (d *ScanDefinition) Snapshot() DefinitionSnapshot {
	return DefinitionSnapshot{
		Name:                      d.Name,
		SourcePath:                d.SourcePath,
		TargetPath:                d.TargetPath,
		Strategy:                  d.Strategy,
		IncludeExtendedTimestamps: d.IncludeExtendedTimestamps,
		IncludeAdvancedAttributes: d.IncludeAdvancedAttributes,
		AutoMerge:                 d.AutoMerge,
		DeepScan:                  d.DeepScan,
		Exclusions:                append([]string(nil), d.Exclusions...),
	}
}

// DefinitionSnapshot is the copy of a definition's parameters kept on every
// result, so results outlive the definition that produced them.
type DefinitionSnapshot struct {
	Name                      string        `json:"name"`
	SourcePath                string        `json:"source_path"`
	TargetPath                string        `json:"target_path"`
	Strategy                  MergeStrategy `json:"strategy"`
	IncludeExtendedTimestamps bool          `json:"include_extended_timestamps"`
	IncludeAdvancedAttributes bool          `json:"include_advanced_attributes"`
	AutoMerge                 bool          `json:"auto_merge"`
	DeepScan                  bool          `json:"deep_scan"`
	Exclusions                []string      `json:"exclusions,omitempty"`
}

func (s DefinitionSnapshot) Root(side Side) string {
	if side == SideTarget {
		return s.TargetPath
	}
	return s.SourcePath
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

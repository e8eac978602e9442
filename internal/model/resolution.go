package model

import (
	"time"
	"unicode/utf8"
)

type Side string

const (
	SideSource Side = "SOURCE"
	SideTarget Side = "TARGET"
)

func (s Side) Opposite() Side {
	if s == SideSource {
		return SideTarget
	}
	return SideSource
}

type MergeChoice string

const (
	ChoiceUseSource MergeChoice = "USE_SOURCE"
	ChoiceUseTarget MergeChoice = "USE_TARGET"
	ChoiceBoth      MergeChoice = "BOTH"
	ChoiceSkip      MergeChoice = "SKIP"
)

func (c MergeChoice) Valid() bool {
	switch c {
	case ChoiceUseSource, ChoiceUseTarget, ChoiceBoth, ChoiceSkip:
		return true
	}
	return false
}

type MergeAction string

const (
	ActionCopy      MergeAction = "COPY"
	ActionOverwrite MergeAction = "OVERWRITE"
	ActionTrash     MergeAction = "TRASH"
	ActionRestore   MergeAction = "RESTORE"
	ActionNone      MergeAction = "NONE"
)

// MaxErrorLength bounds the error detail stored on a resolution.
const MaxErrorLength = 255

type MergeResolution struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ResultID  string      `gorm:"not null;index" json:"result_id"`
	EntryPath string      `gorm:"not null;index" json:"entry_path"`
	Choice    MergeChoice `gorm:"not null" json:"choice"`
	Action    MergeAction `gorm:"not null" json:"action"`
	// Side is the tree written by the action; empty for NONE.
	Side       Side      `json:"side,omitempty"`
	Auto       bool      `json:"auto"`
	Attempts   int       `json:"attempts"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `gorm:"size:255" json:"error,omitempty"`
	TrashPath  string    `json:"trash_path,omitempty"`
	ResolvedAt time.Time `gorm:"not null" json:"resolved_at"`
}

func (r *MergeResolution) SetError(err error) {
	if err == nil {
		return
	}

	msg := err.Error()
	if len(msg) > MaxErrorLength {
		cut := MaxErrorLength
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	r.Error = msg
	r.Succeeded = false
}

// Resolves reports whether the resolution leaves its entry resolved.
func (r *MergeResolution) Resolves() bool {
	return r != nil && r.Succeeded && r.Action != ActionRestore
}

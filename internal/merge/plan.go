package merge

import (
	"assurance/internal/apperr"
	"assurance/internal/model"
)

// Plan is the filesystem action chosen for one entry. From is the side read
// by COPY and OVERWRITE; To is the side written or trashed.
type Plan struct {
	Choice model.MergeChoice
	Action model.MergeAction
	From   model.Side
	To     model.Side
}

// PlanFor maps a choice on an entry to the action that carries it out.
func PlanFor(entry *model.ComparisonEntry, choice model.MergeChoice) (Plan, error) {
	if !choice.Valid() {
		return Plan{}, apperr.Validation("choice", "unknown choice %q", choice)
	}
	if !entry.NeedsResolution() {
		return Plan{}, apperr.Validation("choice", "%s is identical on both sides", entry.Path)
	}

	p := Plan{Choice: choice, Action: model.ActionNone}
	if choice == model.ChoiceSkip {
		return p, nil
	}

	switch entry.Status {
	case model.StatusSourceOnly:
		switch choice {
		case model.ChoiceUseSource, model.ChoiceBoth:
			p.Action, p.From, p.To = model.ActionCopy, model.SideSource, model.SideTarget
		case model.ChoiceUseTarget:
			p.Action, p.To = model.ActionTrash, model.SideSource
		}

	case model.StatusTargetOnly:
		switch choice {
		case model.ChoiceUseSource:
			p.Action, p.To = model.ActionTrash, model.SideTarget
		case model.ChoiceBoth:
			p.Action, p.From, p.To = model.ActionCopy, model.SideTarget, model.SideSource
		case model.ChoiceUseTarget:
			// already where the target wants it
		}

	case model.StatusDiffering:
		switch choice {
		case model.ChoiceUseSource:
			p.Action, p.From, p.To = model.ActionOverwrite, model.SideSource, model.SideTarget
		case model.ChoiceUseTarget:
			p.Action, p.From, p.To = model.ActionOverwrite, model.SideTarget, model.SideSource
		case model.ChoiceBoth:
			return Plan{}, apperr.Validation("choice",
				"%s differs on both sides, choose source or target", entry.Path)
		}
	}

	if p.Action == model.ActionCopy || p.Action == model.ActionOverwrite {
		if err := checkCopyable(entry, p.From); err != nil {
			return Plan{}, err
		}
	}

	return p, nil
}

// checkCopyable rejects plans that would read a side the scan could not
// capture completely.
func checkCopyable(entry *model.ComparisonEntry, side model.Side) error {
	rec := entry.Record(side)
	switch {
	case rec == nil:
		return apperr.Validation("choice", "%s has no %s side", entry.Path, side)
	case rec.Failed():
		return apperr.Validation("choice", "%s could not be read on the %s side: %s",
			entry.Path, side, rec.Error)
	}

	switch rec.Type {
	case model.TypeFile, model.TypeDirectory, model.TypeSymlink:
		return nil
	}
	return apperr.Validation("choice", "%s is a %s on the %s side and cannot be copied",
		entry.Path, rec.Type, side)
}

// AutoChoice returns the choice auto-merge applies to entry under strategy.
// It declines entries whose plan would trash data, entries that could not be
// read on either side, and differing entries under the BOTH strategy.
func AutoChoice(strategy model.MergeStrategy, entry *model.ComparisonEntry) (model.MergeChoice, bool) {
	if !entry.NeedsResolution() || entry.Source.Failed() || entry.Target.Failed() {
		return "", false
	}

	var choice model.MergeChoice
	switch strategy {
	case model.StrategySourceWins:
		choice = model.ChoiceUseSource
	case model.StrategyTargetWins:
		choice = model.ChoiceUseTarget
	case model.StrategyBoth:
		if entry.Status == model.StatusDiffering {
			return "", false
		}
		choice = model.ChoiceBoth
	default:
		return "", false
	}

	p, err := PlanFor(entry, choice)
	if err != nil || p.Action == model.ActionTrash {
		return "", false
	}

	return choice, true
}

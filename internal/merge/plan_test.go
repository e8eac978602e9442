package merge

import (
	"testing"

	"assurance/internal/apperr"
	"assurance/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFor(t *testing.T) {
	src := &model.FileAttributeRecord{Path: "f", Type: model.TypeFile}
	dst := &model.FileAttributeRecord{Path: "f", Type: model.TypeFile, Size: 1}

	sourceOnly := &model.ComparisonEntry{Path: "f", Source: src, Status: model.StatusSourceOnly}
	targetOnly := &model.ComparisonEntry{Path: "f", Target: dst, Status: model.StatusTargetOnly}
	differing := &model.ComparisonEntry{Path: "f", Source: src, Target: dst, Status: model.StatusDiffering}

	cases := []struct {
		name   string
		entry  *model.ComparisonEntry
		choice model.MergeChoice
		want   Plan
	}{
		{"source only use source", sourceOnly, model.ChoiceUseSource,
			Plan{model.ChoiceUseSource, model.ActionCopy, model.SideSource, model.SideTarget}},
		{"source only use target", sourceOnly, model.ChoiceUseTarget,
			Plan{model.ChoiceUseTarget, model.ActionTrash, "", model.SideSource}},
		{"source only both", sourceOnly, model.ChoiceBoth,
			Plan{model.ChoiceBoth, model.ActionCopy, model.SideSource, model.SideTarget}},
		{"target only use source", targetOnly, model.ChoiceUseSource,
			Plan{model.ChoiceUseSource, model.ActionTrash, "", model.SideTarget}},
		{"target only use target", targetOnly, model.ChoiceUseTarget,
			Plan{model.ChoiceUseTarget, model.ActionNone, "", ""}},
		{"target only both", targetOnly, model.ChoiceBoth,
			Plan{model.ChoiceBoth, model.ActionCopy, model.SideTarget, model.SideSource}},
		{"differing use source", differing, model.ChoiceUseSource,
			Plan{model.ChoiceUseSource, model.ActionOverwrite, model.SideSource, model.SideTarget}},
		{"differing use target", differing, model.ChoiceUseTarget,
			Plan{model.ChoiceUseTarget, model.ActionOverwrite, model.SideTarget, model.SideSource}},
		{"skip", differing, model.ChoiceSkip,
			Plan{model.ChoiceSkip, model.ActionNone, "", ""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PlanFor(tc.entry, tc.choice)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("both on differing is ambiguous", func(t *testing.T) {
		_, err := PlanFor(differing, model.ChoiceBoth)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("identical needs nothing", func(t *testing.T) {
		identical := &model.ComparisonEntry{Path: "f", Source: src, Target: src, Status: model.StatusIdentical}
		_, err := PlanFor(identical, model.ChoiceUseSource)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("unknown choice", func(t *testing.T) {
		_, err := PlanFor(differing, "MERGE")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("unreadable side is not copied", func(t *testing.T) {
		unreadable := &model.FileAttributeRecord{Path: "f", Type: model.TypeOther, Error: "lstat f: permission denied"}
		entry := &model.ComparisonEntry{Path: "f", Source: unreadable, Target: dst, Status: model.StatusDiffering,
			Differences: []model.AttributeField{model.FieldReadError}}

		_, err := PlanFor(entry, model.ChoiceUseSource)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		// the readable side can still win
		got, err := PlanFor(entry, model.ChoiceUseTarget)
		require.NoError(t, err)
		assert.Equal(t, model.ActionOverwrite, got.Action)
	})

	t.Run("special files are not copied", func(t *testing.T) {
		fifo := &model.FileAttributeRecord{Path: "f", Type: model.TypeOther}
		entry := &model.ComparisonEntry{Path: "f", Source: fifo, Status: model.StatusSourceOnly}

		_, err := PlanFor(entry, model.ChoiceUseSource)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		got, err := PlanFor(entry, model.ChoiceUseTarget)
		require.NoError(t, err)
		assert.Equal(t, model.ActionTrash, got.Action)
	})
}

func TestAutoChoice(t *testing.T) {
	file := &model.FileAttributeRecord{Path: "f", Type: model.TypeFile}
	unreadable := &model.FileAttributeRecord{Path: "f", Type: model.TypeOther, Error: "lstat f: no such file or directory"}

	sourceOnly := &model.ComparisonEntry{Path: "f", Source: file, Status: model.StatusSourceOnly}
	targetOnly := &model.ComparisonEntry{Path: "f", Target: file, Status: model.StatusTargetOnly}
	differing := &model.ComparisonEntry{Path: "f", Source: file, Target: file, Status: model.StatusDiffering}
	identical := &model.ComparisonEntry{Path: "f", Source: file, Target: file, Status: model.StatusIdentical}
	readError := &model.ComparisonEntry{Path: "f", Source: unreadable, Target: file,
		Status: model.StatusDiffering, Differences: []model.AttributeField{model.FieldReadError}}

	cases := []struct {
		strategy model.MergeStrategy
		entry    *model.ComparisonEntry
		want     model.MergeChoice
		ok       bool
	}{
		{model.StrategySourceWins, sourceOnly, model.ChoiceUseSource, true},
		{model.StrategySourceWins, differing, model.ChoiceUseSource, true},
		{model.StrategySourceWins, targetOnly, "", false},
		{model.StrategyTargetWins, targetOnly, model.ChoiceUseTarget, true},
		{model.StrategyTargetWins, differing, model.ChoiceUseTarget, true},
		{model.StrategyTargetWins, sourceOnly, "", false},
		{model.StrategyBoth, sourceOnly, model.ChoiceBoth, true},
		{model.StrategyBoth, targetOnly, model.ChoiceBoth, true},
		{model.StrategyBoth, differing, "", false},
		{model.StrategySourceWins, identical, "", false},
		{model.StrategySourceWins, readError, "", false},
		{model.StrategyTargetWins, readError, "", false},
	}

	for _, tc := range cases {
		t.Run(string(tc.strategy)+"/"+string(tc.entry.Status), func(t *testing.T) {
			got, ok := AutoChoice(tc.strategy, tc.entry)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

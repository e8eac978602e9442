// Package compare aligns the records of two scans by relative path.
package compare

import (
	"cmp"
	"slices"
	"strings"

	"assurance/internal/model"
)

// Policy selects the optional attribute groups taken into account.
type Policy struct {
	IncludeExtendedTimestamps bool
	IncludeAdvancedAttributes bool
	CompareContent            bool
}

func PolicyFor(def model.DefinitionSnapshot) Policy {
	return Policy{
		IncludeExtendedTimestamps: def.IncludeExtendedTimestamps,
		IncludeAdvancedAttributes: def.IncludeAdvancedAttributes,
		CompareContent:            def.DeepScan,
	}
}

type Comparator struct {
	policy Policy
}

func New(policy Policy) *Comparator {
	return &Comparator{policy: policy}
}

// Compare joins source and target on relative path. Every path present on
// either side yields exactly one entry; entries come back in tree order with
// Seq set to their position.
func (c *Comparator) Compare(source, target []model.FileAttributeRecord) []model.ComparisonEntry {
	byPath := make(map[string]*model.ComparisonEntry, max(len(source), len(target)))

	for i := range source {
		rec := source[i]
		byPath[rec.Path] = &model.ComparisonEntry{Path: rec.Path, Source: &rec}
	}
	for i := range target {
		rec := target[i]
		if e, ok := byPath[rec.Path]; ok {
			e.Target = &rec
			continue
		}
		byPath[rec.Path] = &model.ComparisonEntry{Path: rec.Path, Target: &rec}
	}

	entries := make([]model.ComparisonEntry, 0, len(byPath))
	for _, e := range byPath {
		c.classify(e)
		entries = append(entries, *e)
	}

	slices.SortFunc(entries, func(a, b model.ComparisonEntry) int {
		return ComparePaths(a.Path, a.IsDir(), b.Path, b.IsDir())
	})
	for i := range entries {
		entries[i].Seq = i
	}

	return entries
}

func (c *Comparator) classify(e *model.ComparisonEntry) {
	switch {
	case e.Target == nil:
		e.Status = model.StatusSourceOnly
	case e.Source == nil:
		e.Status = model.StatusTargetOnly
	default:
		e.Differences = c.Diff(e.Source, e.Target)
		e.Status = model.StatusIdentical
		if len(e.Differences) > 0 {
			e.Status = model.StatusDiffering
		}
	}
}

// Diff lists the compared fields on which a and b disagree.
func (c *Comparator) Diff(a, b *model.FileAttributeRecord) []model.AttributeField {
	if a.Failed() || b.Failed() {
		return []model.AttributeField{model.FieldReadError}
	}

	// nothing else is comparable across types
	if a.Type != b.Type {
		return []model.AttributeField{model.FieldType}
	}

	var diff []model.AttributeField
	add := func(field model.AttributeField, differs bool) {
		if differs {
			diff = append(diff, field)
		}
	}

	add(model.FieldSize, a.Type == model.TypeFile && a.Size != b.Size)
	add(model.FieldPermissions, a.Permissions != b.Permissions)
	add(model.FieldHidden, a.Flags.Hidden != b.Flags.Hidden)
	add(model.FieldReadOnly, a.Flags.ReadOnly != b.Flags.ReadOnly)
	add(model.FieldSystem, a.Flags.System != b.Flags.System)
	add(model.FieldArchive, a.Flags.Archive != b.Flags.Archive)
	add(model.FieldLinkTarget, a.LinkTarget != b.LinkTarget)

	// creation time differs on every copy, so it is never compared
	if c.policy.IncludeExtendedTimestamps {
		add(model.FieldModified, !a.Modified.Equal(b.Modified))
		add(model.FieldAccessed, !a.Accessed.Equal(b.Accessed))
	}

	if c.policy.IncludeAdvancedAttributes {
		add(model.FieldOwner, a.Owner != b.Owner)
		add(model.FieldGroup, a.Group != b.Group)
		add(model.FieldACL, a.ACL != b.ACL)
		add(model.FieldXattrHash, a.XattrHash != b.XattrHash)
	}

	if c.policy.CompareContent && a.Type == model.TypeFile {
		add(model.FieldContentHash, a.ContentHash != b.ContentHash)
	}

	return diff
}

// ComparePaths orders slash-separated relative paths component by component.
// Within one directory level directories sort before files, then names sort
// lexicographically; a directory sorts before its descendants.
func ComparePaths(a string, aDir bool, b string, bDir bool) int {
	ap := strings.Split(a, "/")
	bp := strings.Split(b, "/")

	for i := 0; i < len(ap) && i < len(bp); i++ {
		if ap[i] == bp[i] {
			continue
		}

		aIsDir := i < len(ap)-1 || aDir
		bIsDir := i < len(bp)-1 || bDir
		if aIsDir != bIsDir {
			if aIsDir {
				return -1
			}
			return 1
		}

		return strings.Compare(ap[i], bp[i])
	}

	return cmp.Compare(len(ap), len(bp))
}

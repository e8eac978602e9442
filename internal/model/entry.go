package model

type EntryStatus string

const (
	StatusSourceOnly EntryStatus = "SOURCE_ONLY"
	StatusTargetOnly EntryStatus = "TARGET_ONLY"
	StatusIdentical  EntryStatus = "IDENTICAL"
	StatusDiffering  EntryStatus = "DIFFERING"
)

type AttributeField string

const (
	FieldType        AttributeField = "type"
	FieldSize        AttributeField = "size"
	FieldPermissions AttributeField = "permissions"
	FieldHidden      AttributeField = "hidden"
	FieldReadOnly    AttributeField = "read_only"
	FieldSystem      AttributeField = "system"
	FieldArchive     AttributeField = "archive"
	FieldLinkTarget  AttributeField = "link_target"
	FieldModified    AttributeField = "modified"
	FieldAccessed    AttributeField = "accessed"
	FieldOwner       AttributeField = "owner"
	FieldGroup       AttributeField = "group"
	FieldACL         AttributeField = "acl"
	FieldXattrHash   AttributeField = "xattr_hash"
	FieldContentHash AttributeField = "content_hash"
	FieldReadError   AttributeField = "read_error"
)

type ComparisonEntry struct {
	ID          uint                 `gorm:"primaryKey" json:"-"`
	ResultID    string               `gorm:"not null;uniqueIndex:idx_entry_result_path,priority:1;index:idx_entry_result_seq,priority:1" json:"-"`
	Seq         int                  `gorm:"not null;index:idx_entry_result_seq,priority:2" json:"seq"`
	Path        string               `gorm:"not null;uniqueIndex:idx_entry_result_path,priority:2" json:"path"`
	Source      *FileAttributeRecord `gorm:"serializer:json" json:"source,omitempty"`
	Target      *FileAttributeRecord `gorm:"serializer:json" json:"target,omitempty"`
	Status      EntryStatus          `gorm:"not null" json:"status"`
	Differences []AttributeField     `gorm:"serializer:json" json:"differences,omitempty"`
}

func (e *ComparisonEntry) NeedsResolution() bool {
	return e.Status != StatusIdentical
}

func (e *ComparisonEntry) IsDir() bool {
	return e.Source.IsDir() || e.Target.IsDir()
}

// Record returns the record captured on the given side, or nil.
func (e *ComparisonEntry) Record(side Side) *FileAttributeRecord {
	if side == SideTarget {
		return e.Target
	}
	return e.Source
}

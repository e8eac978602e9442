package model

import (
	"io/fs"
	"time"
)

type EntryType string

const (
	TypeFile      EntryType = "FILE"
	TypeDirectory EntryType = "DIRECTORY"
	TypeSymlink   EntryType = "SYMLINK"
	TypeOther     EntryType = "OTHER"
)

func EntryTypeOf(mode fs.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return TypeFile
	case mode.IsDir():
		return TypeDirectory
	case mode&fs.ModeSymlink != 0:
		return TypeSymlink
	default:
		return TypeOther
	}
}

type EntryFlags struct {
	Hidden   bool `json:"hidden"`
	ReadOnly bool `json:"read_only"`
	System   bool `json:"system"`
	Archive  bool `json:"archive"`
}

// FileAttributeRecord is the metadata of one filesystem entry captured at
// scan time. Path is relative to the scanned root and slash separated.
type FileAttributeRecord struct {
	Path        string      `json:"path"`
	Name        string      `json:"name"`
	Type        EntryType   `json:"type"`
	Size        int64       `json:"size"`
	Created     time.Time   `json:"created,omitzero"`
	Modified    time.Time   `json:"modified,omitzero"`
	Accessed    time.Time   `json:"accessed,omitzero"`
	Flags       EntryFlags  `json:"flags"`
	Owner       string      `json:"owner,omitempty"`
	Group       string      `json:"group,omitempty"`
	Permissions fs.FileMode `json:"permissions"`
	ACL         string      `json:"acl,omitempty"`
	XattrHash   string      `json:"xattr_hash,omitempty"`
	LinkTarget  string      `json:"link_target,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
	// Error is set when the entry could only be partially read.
	Error string `json:"error,omitempty"`
}

func (r *FileAttributeRecord) IsDir() bool {
	return r != nil && r.Type == TypeDirectory
}

func (r *FileAttributeRecord) Failed() bool {
	return r != nil && r.Error != ""
}

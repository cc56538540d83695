package models

import "time"

// Version is one immutable snapshot in a document's history. Versions
// form a linear chain through ParentHash; the root version has an empty
// ParentHash. Rows are append-only: nothing ever updates or deletes them,
// restores included.
type Version struct {
	Hash       string    `json:"hash" gorm:"type:char(64);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(27);index;not null"`
	ParentHash string    `json:"parent_hash,omitempty" gorm:"type:char(64)"`
	Title      string    `json:"title" gorm:"type:text;not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	Author     string    `json:"author" gorm:"type:text"`
	Message    string    `json:"message" gorm:"type:text"`
	CreatedAt  time.Time `json:"timestamp" gorm:"column:created_at;autoCreateTime"`
}

// ShortHash returns the 7-character display form of the version hash.
func (v *Version) ShortHash() string {
	if len(v.Hash) < 7 {
		return v.Hash
	}
	return v.Hash[:7]
}

type VersionCreate struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Comment string `json:"comment"`
}

package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// ShareLink is a capability token: anyone holding ShareID gets the
// encoded access to the document, read-only or read-write. Links never
// expire and are never revoked. A document may have any number of
// outstanding links with different edit rights.
type ShareLink struct {
	ShareID    string    `json:"share_id" gorm:"type:char(27);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(27);index;not null"`
	CanEdit    bool      `json:"can_edit" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate hook generates the opaque share token before inserting
func (s *ShareLink) BeforeCreate(tx *gorm.DB) error {
	if s.ShareID == "" {
		s.ShareID = ksuid.New().String()
	}
	return nil
}

type ShareCreate struct {
	CanEdit bool `json:"canEdit"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// AnonymousUploader is stored when an upload carries no display name.
const AnonymousUploader = "Anonymous"

// FlagThreshold is the report count at which a photo is flagged for review.
const FlagThreshold = 3

// ModerationStatus controls whether a photo is publicly visible.
type ModerationStatus string

const (
	StatusApproved ModerationStatus = "approved"
	StatusPending  ModerationStatus = "pending"
	StatusRejected ModerationStatus = "rejected"
)

// Normalize maps the legacy empty value to approved.
func (s ModerationStatus) Normalize() ModerationStatus {
	if s == "" {
		return StatusApproved
	}
	return s
}

// Visible reports whether anonymous readers may see a photo in this state.
func (s ModerationStatus) Visible() bool {
	return s.Normalize() == StatusApproved
}

// Photo represents a single archived sky photograph.
type Photo struct {
	ID                 string           `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	MediaURL           string           `gorm:"not null" json:"mediaUrl" bson:"media_url"`
	MediaRef           string           `json:"-" bson:"media_ref,omitempty"`
	ContentFingerprint *string          `gorm:"uniqueIndex;size:64" json:"-" bson:"content_fingerprint,omitempty"`
	Latitude           *float64         `gorm:"index:idx_photos_coords" json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude          *float64         `gorm:"index:idx_photos_coords" json:"longitude,omitempty" bson:"longitude,omitempty"`
	LocationName       *string          `gorm:"index" json:"locationName,omitempty" bson:"location_name,omitempty"`
	LocationKey        *string          `json:"-" bson:"-"`
	UploadedBy         string           `gorm:"not null;default:Anonymous;index:idx_photos_uploader" json:"uploadedBy" bson:"uploaded_by"`
	UploadedAt         time.Time        `gorm:"not null;index;index:idx_photos_uploader;index:idx_photos_status" json:"uploadedAt" bson:"uploaded_at"`
	LikeCount          int64            `gorm:"not null;default:0" json:"likeCount" bson:"like_count"`
	ReportCount        int64            `gorm:"not null;default:0" json:"reportCount" bson:"report_count"`
	IsFlagged          bool             `gorm:"not null;default:false" json:"isFlagged" bson:"is_flagged"`
	ModerationStatus   ModerationStatus `gorm:"size:16;index:idx_photos_status" json:"moderationStatus" bson:"moderation_status,omitempty"`
	UpdatedAt          time.Time        `json:"-" bson:"updated_at"`
}

// BeforeCreate derives LocationKey; locations never change after creation.
func (p *Photo) BeforeCreate(tx *gorm.DB) error {
	if p.LocationName != nil {
		key := LocationKey(*p.LocationName)
		p.LocationKey = &key
	}
	return nil
}

// AfterFind normalizes rows written before moderation existed.
func (p *Photo) AfterFind(tx *gorm.DB) error {
	p.Normalize()
	return nil
}

// Normalize applies the read-boundary migration rules to a freshly loaded photo.
func (p *Photo) Normalize() {
	p.ModerationStatus = p.ModerationStatus.Normalize()
	if p.UploadedBy == "" {
		p.UploadedBy = AnonymousUploader
	}
	if p.Latitude == nil || p.Longitude == nil {
		p.Latitude, p.Longitude = nil, nil
	}
}

// Visible reports whether the photo can be served to anonymous readers.
func (p *Photo) Visible() bool {
	return p.ModerationStatus.Visible()
}

// HasCoordinates reports whether both coordinates are set.
func (p *Photo) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Region returns the region facet derived from the location name.
func (p *Photo) Region() string {
	if p.LocationName == nil {
		return ""
	}
	return RegionFromLocation(*p.LocationName)
}

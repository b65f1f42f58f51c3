package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sujalbistaa/skyarchive/internal/geo"
	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

// MaxUploadBytes is the largest accepted image.
const MaxUploadBytes = 10 << 20

// Upload outcomes reported to the Recorder.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Upload is one image submission.
type Upload struct {
	Data         []byte
	ContentType  string
	DeclaredSize int64
	UploadedBy   string
	Latitude     *float64
	Longitude    *float64
	LocationName string
}

// Fingerprint returns the hex SHA-256 of the image bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CheckDuplicate returns the photo already archived under fingerprint, or nil.
func (s *Service) CheckDuplicate(ctx context.Context, fingerprint string) (*models.Photo, error) {
	p, err := s.store.FindByFingerprint(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("check duplicate", err)
	}
	return p, nil
}

func validateUpload(u Upload) error {
	if len(u.Data) == 0 {
		return ErrEmptyUpload
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(u.ContentType)), "image/") {
		return ErrInvalidMediaType
	}
	if u.DeclaredSize > MaxUploadBytes || len(u.Data) > MaxUploadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// normalizeCoordinates keeps both values or neither.
func normalizeCoordinates(lat, lng *float64) (*float64, *float64) {
	if lat == nil || lng == nil || !geo.ValidCoordinates(*lat, *lng) {
		return nil, nil
	}
	la, lo := *lat, *lng
	return &la, &lo
}

func uploaderName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return models.AnonymousUploader
	}
	return name
}

// Ingest validates and archives an upload. When the bytes are already
// archived it returns the existing photo together with ErrDuplicateContent.
// The blob is stored before the metadata, and removed again if the metadata
// cannot be written, so a photo never points at a missing blob.
func (s *Service) Ingest(ctx context.Context, u Upload) (*models.Photo, error) {
	if err := validateUpload(u); err != nil {
		s.metrics.UploadResult(OutcomeRejected)
		return nil, err
	}

	fingerprint := Fingerprint(u.Data)
	existing, err := s.CheckDuplicate(ctx, fingerprint)
	if err != nil {
		s.metrics.UploadResult(OutcomeFailed)
		return nil, err
	}
	if existing != nil {
		s.metrics.UploadResult(OutcomeDuplicate)
		return existing, ErrDuplicateContent
	}

	lat, lng := normalizeCoordinates(u.Latitude, u.Longitude)
	if lat == nil && s.extractor != nil {
		if la, lo, ok := s.extractor.Extract(u.Data); ok {
			lat, lng = normalizeCoordinates(&la, &lo)
		}
	}

	location := strings.TrimSpace(u.LocationName)
	if location == "" && lat != nil && s.geocoder != nil {
		location = s.reverseGeocode(ctx, *lat, *lng)
	}

	obj, err := s.blob.Upload(ctx, u.Data, u.ContentType)
	if err != nil {
		s.metrics.UploadResult(OutcomeFailed)
		s.log.Error().Err(err).Msg("blob upload failed")
		return nil, errors.Join(ErrUploadFailed, err)
	}

	now := s.clock()
	status := models.StatusApproved
	if s.moderationEnabled {
		status = models.StatusPending
	}
	photo := &models.Photo{
		ID:                 s.newID(),
		MediaURL:           obj.URL,
		MediaRef:           obj.Ref,
		ContentFingerprint: &fingerprint,
		Latitude:           lat,
		Longitude:          lng,
		UploadedBy:         uploaderName(u.UploadedBy),
		UploadedAt:         now,
		ModerationStatus:   status,
		UpdatedAt:          now,
	}
	if location != "" {
		photo.LocationName = &location
	}

	if err := s.store.Create(ctx, photo); err != nil {
		s.discardBlob(ctx, obj.Ref)
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with an identical upload.
			if winner, findErr := s.store.FindByFingerprint(ctx, fingerprint); findErr == nil {
				s.metrics.UploadResult(OutcomeDuplicate)
				return winner, ErrDuplicateContent
			}
		}
		s.metrics.UploadResult(OutcomeFailed)
		return nil, storageErr("create photo", err)
	}

	s.flushFacets()
	s.metrics.UploadResult(OutcomeCreated)
	if status == models.StatusPending {
		s.publish(EventQueued, photo)
	}
	s.log.Info().Str("photo_id", photo.ID).Str("status", string(status)).Msg("photo archived")
	return photo, nil
}

func (s *Service) reverseGeocode(ctx context.Context, lat, lng float64) string {
	name, err := s.geocoder.Reverse(ctx, lat, lng)
	if err != nil || strings.TrimSpace(name) == "" {
		s.log.Warn().Err(err).Msg("reverse geocoding failed")
		return geo.UnknownLocation
	}
	return strings.TrimSpace(name)
}

func (s *Service) discardBlob(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.blob.Delete(ctx, ref); err != nil {
		s.log.Warn().Err(err).Str("ref", ref).Msg("orphaned blob cleanup failed")
	}
}

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/skyarchive/internal/models"
)

// GormStore is the SQL backend used for both PostgreSQL and SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the photos table and its indexes, then fills
// location_key for rows written before it existed.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.Photo{}); err != nil {
		return err
	}
	return s.backfillLocationKeys(ctx)
}

const backfillBatch = 200

func (s *GormStore) backfillLocationKeys(ctx context.Context) error {
	var batch []models.Photo
	return s.db.WithContext(ctx).Model(&models.Photo{}).
		Select("id", "location_name").
		Where("location_key IS NULL AND location_name IS NOT NULL").
		FindInBatches(&batch, backfillBatch, func(_ *gorm.DB, _ int) error {
			for _, p := range batch {
				key := models.LocationKey(*p.LocationName)
				err := s.db.WithContext(ctx).Model(&models.Photo{}).
					Where("id = ?", p.ID).
					UpdateColumn("location_key", key).Error
				if err != nil {
					return err
				}
			}
			return nil
		}).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// visible restricts a query to approved and legacy rows, plus pending ones
// when requested.
func visible(includePending bool) func(*gorm.DB) *gorm.DB {
	statuses := []string{string(models.StatusApproved), ""}
	if includePending {
		statuses = append(statuses, string(models.StatusPending))
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(moderation_status IN ? OR moderation_status IS NULL)", statuses)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// regionPattern matches one whole segment of location_key, which holds the
// location as ",seg,seg,...," with whitespace already normalized.
func regionPattern(region string) string {
	return "%," + likeEscaper.Replace(models.NormalizeRegion(region)) + ",%"
}

const regionExpr = `location_key LIKE ? ESCAPE '\'`

func applyFilter(f Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q := strings.TrimSpace(f.Query); q != "" {
			p := containsPattern(q)
			db = db.Where(`(LOWER(location_name) LIKE ? ESCAPE '\' OR LOWER(uploaded_by) LIKE ? ESCAPE '\')`, p, p)
		}
		if r := strings.TrimSpace(f.Region); r != "" {
			db = db.Where(regionExpr, regionPattern(r))
		}
		if u := strings.TrimSpace(f.Uploader); u != "" {
			db = db.Where(`LOWER(uploaded_by) LIKE ? ESCAPE '\'`, containsPattern(u))
		}
		if f.ExactUploader != "" {
			db = db.Where("uploaded_by = ?", f.ExactUploader)
		}
		if f.From != nil {
			db = db.Where("uploaded_at >= ?", f.From.UTC())
		}
		if f.To != nil {
			db = db.Where("uploaded_at <= ?", f.To.UTC())
		}
		switch {
		case f.BBox != nil:
			db = db.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
				f.BBox.South, f.BBox.North, f.BBox.West, f.BBox.East)
		case !f.IncludeUnlocated:
			db = db.Where("latitude IS NOT NULL AND longitude IS NOT NULL")
		}
		return db
	}
}

func (s *GormStore) Create(ctx context.Context, p *models.Photo) error {
	err := s.db.WithContext(ctx).Create(p).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	// Not every driver translates constraint errors.
	if p.ContentFingerprint != nil {
		if _, findErr := s.FindByFingerprint(ctx, *p.ContentFingerprint); findErr == nil {
			return ErrConflict
		}
	}
	return err
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.Photo, error) {
	var p models.Photo
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Photo, error) {
	var p models.Photo
	if err := s.db.WithContext(ctx).First(&p, "content_fingerprint = ?", fingerprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) IncrementLikes(ctx context.Context, id string) (int64, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Photo{}).Scopes(visible(false)).Where("id = ?", id).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Select("id", "like_count").First(&p, "id = ?", id).Error
	})
	if err != nil {
		return 0, err
	}
	return p.LikeCount, nil
}

func (s *GormStore) IncrementReports(ctx context.Context, id string, threshold int64) (int64, bool, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Both right-hand sides read the pre-update row, so the flag is
		// computed from the new count within the same statement.
		res := tx.Model(&models.Photo{}).Scopes(visible(false)).Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"report_count": gorm.Expr("report_count + ?", 1),
				"is_flagged":   gorm.Expr("report_count + ? >= ?", 1, threshold),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Select("id", "report_count", "is_flagged").First(&p, "id = ?", id).Error
	})
	if err != nil {
		return 0, false, err
	}
	return p.ReportCount, p.IsFlagged, nil
}

func (s *GormStore) UpdateModeration(ctx context.Context, id string, u ModerationUpdate) (*models.Photo, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"moderation_status": string(u.Status)}
		if u.ResetReports {
			updates["report_count"] = 0
			updates["is_flagged"] = false
		}
		res := tx.Model(&models.Photo{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&p, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) Search(ctx context.Context, f Filter, page Page) ([]models.Photo, int64, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Photo{}).
			Scopes(visible(f.IncludePending), applyFilter(f))
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	photos := make([]models.Photo, 0, page.Size)
	if int64(page.Offset()) >= total {
		return photos, total, nil
	}
	err := base().
		Order("uploaded_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&photos).Error
	if err != nil {
		return nil, 0, err
	}
	return photos, total, nil
}

func (s *GormStore) ModerationQueue(ctx context.Context, limit int) ([]models.Photo, error) {
	var photos []models.Photo
	err := s.db.WithContext(ctx).
		Where("moderation_status = ? OR is_flagged = ?", string(models.StatusPending), true).
		Order("report_count DESC").Order("uploaded_at DESC").
		Limit(limit).
		Find(&photos).Error
	return photos, err
}

func (s *GormStore) LocationCounts(ctx context.Context, includePending bool) ([]LocationCount, error) {
	var rows []LocationCount
	err := s.db.WithContext(ctx).Model(&models.Photo{}).
		Scopes(visible(includePending)).
		Select("location_name AS location, COUNT(*) AS total").
		Where("location_name IS NOT NULL AND location_name <> ''").
		Group("location_name").
		Scan(&rows).Error
	return rows, err
}

const uploaderExpr = "COALESCE(NULLIF(uploaded_by, ''), '" + models.AnonymousUploader + "')"

func (s *GormStore) UploaderCounts(ctx context.Context, since time.Time, limit int, includePending bool) ([]UploaderCount, error) {
	var rows []UploaderCount
	err := s.db.WithContext(ctx).Model(&models.Photo{}).
		Scopes(visible(includePending)).
		Select(uploaderExpr+" AS name, COUNT(*) AS total").
		Where("uploaded_at >= ?", since.UTC()).
		Group(uploaderExpr).
		Order("total DESC").Order("name ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (s *GormStore) CountByUploader(ctx context.Context, name string, since time.Time) (int64, int64, error) {
	var total, recent int64
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Photo{}).
			Scopes(visible(false)).
			Where("uploaded_by = ?", name)
	}
	if err := base().Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := base().Where("uploaded_at >= ?", since.UTC()).Count(&recent).Error; err != nil {
		return 0, 0, err
	}
	return total, recent, nil
}

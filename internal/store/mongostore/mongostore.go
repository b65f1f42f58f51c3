// Package mongostore is the MongoDB implementation of store.Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

const collectionName = "photos"

// Store keeps photos in a single collection.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

// Connect dials uri, pings it and selects dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	c, err := mongo.Connect(dctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := c.Ping(dctx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{client: c, col: c.Database(dbName).Collection(collectionName)}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Migrate creates the indexes the query paths rely on.
func (s *Store) Migrate(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.col.Indexes().CreateMany(ictx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uploaded_at", Value: -1}}},
		{Keys: bson.D{{Key: "latitude", Value: 1}, {Key: "longitude", Value: 1}}},
		{
			Keys:    bson.D{{Key: "content_fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "moderation_status", Value: 1}, {Key: "uploaded_at", Value: -1}}},
		{Keys: bson.D{{Key: "uploaded_by", Value: 1}, {Key: "uploaded_at", Value: -1}}},
		{Keys: bson.D{{Key: "location_name", Value: 1}}},
	})
	return err
}

// visibleStatuses lists the status values eligible for reads. nil matches both
// a null and a missing field.
func visibleStatuses(includePending bool) bson.A {
	statuses := bson.A{string(models.StatusApproved), "", nil}
	if includePending {
		statuses = append(statuses, string(models.StatusPending))
	}
	return statuses
}

func visibleFilter(includePending bool) bson.D {
	return bson.D{{Key: "moderation_status", Value: bson.D{{Key: "$in", Value: visibleStatuses(includePending)}}}}
}

func containsRegex(s string) bson.D {
	return bson.D{
		{Key: "$regex", Value: regexp.QuoteMeta(strings.TrimSpace(s))},
		{Key: "$options", Value: "i"},
	}
}

// regionRegex matches the region as one whole comma-delimited segment, with
// any run of whitespace standing in for a space.
func regionRegex(region string) bson.D {
	words := strings.Fields(region)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	pattern := `(?:^|,)\s*` + strings.Join(words, `\s+`) + `\s*(?:,|$)`
	return bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}
}

// buildFilter translates a store.Filter into a query document.
func buildFilter(f store.Filter) bson.D {
	and := bson.A{visibleFilter(f.IncludePending)}

	if q := strings.TrimSpace(f.Query); q != "" {
		and = append(and, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "location_name", Value: containsRegex(q)}},
			bson.D{{Key: "uploaded_by", Value: containsRegex(q)}},
		}}})
	}
	if r := strings.TrimSpace(f.Region); r != "" {
		and = append(and, bson.D{{Key: "location_name", Value: regionRegex(r)}})
	}
	if u := strings.TrimSpace(f.Uploader); u != "" {
		and = append(and, bson.D{{Key: "uploaded_by", Value: containsRegex(u)}})
	}
	if f.ExactUploader != "" {
		and = append(and, bson.D{{Key: "uploaded_by", Value: f.ExactUploader}})
	}
	if f.From != nil || f.To != nil {
		rng := bson.D{}
		if f.From != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: f.From.UTC()})
		}
		if f.To != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: f.To.UTC()})
		}
		and = append(and, bson.D{{Key: "uploaded_at", Value: rng}})
	}
	switch {
	case f.BBox != nil:
		and = append(and,
			bson.D{{Key: "latitude", Value: bson.D{{Key: "$gte", Value: f.BBox.South}, {Key: "$lte", Value: f.BBox.North}}}},
			bson.D{{Key: "longitude", Value: bson.D{{Key: "$gte", Value: f.BBox.West}, {Key: "$lte", Value: f.BBox.East}}}},
		)
	case !f.IncludeUnlocated:
		and = append(and,
			bson.D{{Key: "latitude", Value: bson.D{{Key: "$type", Value: "number"}}}},
			bson.D{{Key: "longitude", Value: bson.D{{Key: "$type", Value: "number"}}}},
		)
	}
	return bson.D{{Key: "$and", Value: and}}
}

func (s *Store) Create(ctx context.Context, p *models.Photo) error {
	_, err := s.col.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (*models.Photo, error) {
	var p models.Photo
	if err := s.col.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.Normalize()
	return &p, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Photo, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Photo, error) {
	return s.findOne(ctx, bson.D{{Key: "content_fingerprint", Value: fingerprint}})
}

func visibleByID(id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "moderation_status", Value: bson.D{{Key: "$in", Value: visibleStatuses(false)}}},
	}
}

func (s *Store) IncrementLikes(ctx context.Context, id string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "like_count", Value: 1}})

	var p models.Photo
	err := s.col.FindOneAndUpdate(ctx, visibleByID(id),
		bson.D{{Key: "$inc", Value: bson.D{{Key: "like_count", Value: 1}}}}, opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.LikeCount, nil
}

// reportPipeline increments the counter and derives the flag from the new
// value in a single atomic document update.
func reportPipeline(threshold int64) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "report_count", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$report_count", 0}}}, 1,
		}}}}}}},
		{{Key: "$set", Value: bson.D{{Key: "is_flagged", Value: bson.D{{Key: "$gte", Value: bson.A{"$report_count", threshold}}}}}}},
	}
}

func (s *Store) IncrementReports(ctx context.Context, id string, threshold int64) (int64, bool, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "report_count", Value: 1}, {Key: "is_flagged", Value: 1}})

	var p models.Photo
	err := s.col.FindOneAndUpdate(ctx, visibleByID(id), reportPipeline(threshold), opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, store.ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return p.ReportCount, p.IsFlagged, nil
}

func (s *Store) UpdateModeration(ctx context.Context, id string, u store.ModerationUpdate) (*models.Photo, error) {
	set := bson.D{
		{Key: "moderation_status", Value: string(u.Status)},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	if u.ResetReports {
		set = append(set, bson.E{Key: "report_count", Value: 0}, bson.E{Key: "is_flagged", Value: false})
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var p models.Photo
	err := s.col.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}}, opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Normalize()
	return &p, nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]models.Photo, error) {
	defer cur.Close(ctx)
	photos := []models.Photo{}
	if err := cur.All(ctx, &photos); err != nil {
		return nil, err
	}
	for i := range photos {
		photos[i].Normalize()
	}
	return photos, nil
}

func (s *Store) Search(ctx context.Context, f store.Filter, page store.Page) ([]models.Photo, int64, error) {
	filter := buildFilter(f)
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if int64(page.Offset()) >= total {
		return []models.Photo{}, total, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Size))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	photos, err := decodeAll(ctx, cur)
	return photos, total, err
}

func (s *Store) ModerationQueue(ctx context.Context, limit int) ([]models.Photo, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "moderation_status", Value: string(models.StatusPending)}},
		bson.D{{Key: "is_flagged", Value: true}},
	}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "report_count", Value: -1}, {Key: "uploaded_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

type countRow struct {
	ID    string `bson:"_id"`
	Total int64  `bson:"total"`
}

func (s *Store) aggregateCounts(ctx context.Context, pipeline mongo.Pipeline) ([]countRow, error) {
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rows []countRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) LocationCounts(ctx context.Context, includePending bool) ([]store.LocationCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "moderation_status", Value: bson.D{{Key: "$in", Value: visibleStatuses(includePending)}}},
			{Key: "location_name", Value: bson.D{{Key: "$type", Value: "string"}, {Key: "$ne", Value: ""}}},
		}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$location_name"}, {Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}
	rows, err := s.aggregateCounts(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]store.LocationCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.LocationCount{Location: r.ID, Total: r.Total})
	}
	return out, nil
}

// uploaderLabel folds missing and empty display names into the anonymous label.
var uploaderLabel = bson.D{{Key: "$cond", Value: bson.A{
	bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$uploaded_by", ""}}}, ""}}},
	models.AnonymousUploader,
	"$uploaded_by",
}}}

func (s *Store) UploaderCounts(ctx context.Context, since time.Time, limit int, includePending bool) ([]store.UploaderCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "moderation_status", Value: bson.D{{Key: "$in", Value: visibleStatuses(includePending)}}},
			{Key: "uploaded_at", Value: bson.D{{Key: "$gte", Value: since.UTC()}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: uploaderLabel},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
	rows, err := s.aggregateCounts(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]store.UploaderCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.UploaderCount{Name: r.ID, Total: r.Total})
	}
	return out, nil
}

func (s *Store) CountByUploader(ctx context.Context, name string, since time.Time) (int64, int64, error) {
	filter := bson.D{
		{Key: "moderation_status", Value: bson.D{{Key: "$in", Value: visibleStatuses(false)}}},
		{Key: "uploaded_by", Value: name},
	}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return 0, 0, err
	}
	recent, err := s.col.CountDocuments(ctx, append(filter, bson.E{Key: "uploaded_at", Value: bson.D{{Key: "$gte", Value: since.UTC()}}}))
	if err != nil {
		return 0, 0, err
	}
	return total, recent, nil
}

var _ store.Store = (*Store)(nil)

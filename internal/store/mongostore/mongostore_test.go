package mongostore

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

func clauses(t *testing.T, f store.Filter) bson.A {
	t.Helper()
	d := buildFilter(f)
	require.Len(t, d, 1)
	require.Equal(t, "$and", d[0].Key)
	and, ok := d[0].Value.(bson.A)
	require.True(t, ok)
	return and
}

func TestBuildFilterDefaultHidesUnlocatedAndHidden(t *testing.T) {
	and := clauses(t, store.Filter{})
	require.Len(t, and, 3)
	assert.Equal(t, visibleFilter(false), and[0])
	assert.Equal(t, bson.D{{Key: "latitude", Value: bson.D{{Key: "$type", Value: "number"}}}}, and[1])
}

func TestBuildFilterIncludeUnlocated(t *testing.T) {
	and := clauses(t, store.Filter{IncludeUnlocated: true})
	assert.Len(t, and, 1)
}

func TestBuildFilterBBoxOverridesUnlocated(t *testing.T) {
	bbox := &store.BBox{West: 68, South: 8, East: 98, North: 37}
	and := clauses(t, store.Filter{BBox: bbox, IncludeUnlocated: true})
	require.Len(t, and, 3)
	assert.Equal(t, bson.D{{Key: "latitude", Value: bson.D{{Key: "$gte", Value: 8.0}, {Key: "$lte", Value: 37.0}}}}, and[1])
	assert.Equal(t, bson.D{{Key: "longitude", Value: bson.D{{Key: "$gte", Value: 68.0}, {Key: "$lte", Value: 98.0}}}}, and[2])
}

func TestBuildFilterAllClauses(t *testing.T) {
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	and := clauses(t, store.Filter{
		Query:            "sun",
		Region:           "Karnataka",
		Uploader:         "ash",
		ExactUploader:    "asha",
		From:             &from,
		To:               &to,
		IncludeUnlocated: true,
		IncludePending:   true,
	})
	require.Len(t, and, 6)
	assert.Equal(t, visibleFilter(true), and[0])
	assert.Equal(t, bson.D{{Key: "uploaded_by", Value: "asha"}}, and[4])
	assert.Equal(t, bson.D{{Key: "uploaded_at", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: to}}}}, and[5])
}

func TestVisibleStatuses(t *testing.T) {
	assert.Equal(t, bson.A{"approved", "", nil}, visibleStatuses(false))
	assert.Contains(t, visibleStatuses(true), string(models.StatusPending))
	assert.NotContains(t, visibleStatuses(true), string(models.StatusRejected))
}

func TestContainsRegexQuotesInput(t *testing.T) {
	d := containsRegex(" 50% (a.b) ")
	assert.Equal(t, `50% \(a\.b\)`, d[0].Value)
	assert.Equal(t, "i", d[1].Value)
}

func TestRegionRegexMatchesWholeSegment(t *testing.T) {
	re := regexp.MustCompile("(?i)" + regionRegex("tamil nadu")[0].Value.(string))
	assert.True(t, re.MatchString("Chennai, Tamil Nadu, India"))
	assert.True(t, re.MatchString("Tamil Nadu, India"))
	assert.True(t, re.MatchString("Tamil Nadu"))
	assert.True(t, re.MatchString("Chennai,  Tamil\tNadu ,India"))
	assert.False(t, re.MatchString("Chennai, Tamil Nadu North, India"))
	assert.False(t, re.MatchString("Chennai, Old Tamil Nadu, India"))
}

func TestReportPipelineDerivesFlagFromNewCount(t *testing.T) {
	p := reportPipeline(models.FlagThreshold)
	require.Len(t, p, 2)
	assert.Equal(t, "$set", p[0][0].Key)
	assert.Equal(t, bson.D{{Key: "is_flagged", Value: bson.D{{Key: "$gte", Value: bson.A{"$report_count", int64(models.FlagThreshold)}}}}}, p[1][0].Value)
}

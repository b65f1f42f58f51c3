package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/skyarchive/internal/archive"
	"github.com/sujalbistaa/skyarchive/internal/blob"
	"github.com/sujalbistaa/skyarchive/internal/db"
	"github.com/sujalbistaa/skyarchive/internal/metrics"
	"github.com/sujalbistaa/skyarchive/internal/ws"
)

const testToken = "s3cret"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type memBlob struct {
	mu sync.Mutex
	n  int
}

func (b *memBlob) Upload(context.Context, []byte, string) (blob.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	ref := fmt.Sprintf("b%d", b.n)
	return blob.Object{URL: "https://cdn.test/" + ref, Ref: ref}, nil
}

func (b *memBlob) Delete(context.Context, string) error { return nil }

type failingBlob struct{}

func (failingBlob) Upload(context.Context, []byte, string) (blob.Object, error) {
	return blob.Object{}, errors.New("connection reset by peer")
}

func (failingBlob) Delete(context.Context, string) error { return nil }

type testServer struct {
	router *gin.Engine
	svc    *archive.Service
	store  interface{ Close() error }
}

type serverOpt func(*archive.Options, *Options)

func newTestServer(t *testing.T, opts ...serverOpt) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := db.OpenSQLite(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	hub := ws.NewHub(zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	aopts := archive.Options{Blob: &memBlob{}, Notifier: hub, Metrics: m, Logger: zerolog.Nop()}
	ropts := Options{AdminToken: testToken, Metrics: m}
	for _, o := range opts {
		o(&aopts, &ropts)
	}

	svc := archive.New(st, aopts)
	router := gin.New()
	SetupRoutes(router, &Env{Archive: svc, Hub: hub, Log: zerolog.Nop()}, ropts)
	return &testServer{router: router, svc: svc, store: st}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, path string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if admin {
		req.Header.Set(adminTokenHeader, testToken)
	}
	return s.do(t, req)
}

func (s *testServer) post(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, httptest.NewRequest(http.MethodPost, path, nil))
}

func (s *testServer) moderate(t *testing.T, id, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/api/moderation/"+id, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(adminTokenHeader, token)
	}
	return s.do(t, req)
}

type uploadForm struct {
	data        []byte
	contentType string
	fields      map[string]string
}

func uploadRequest(t *testing.T, form uploadForm) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range form.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if form.data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="sky.png"`)
		ct := form.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(form.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngWith(suffix string) []byte {
	return append(append([]byte{}, pngHeader...), suffix...)
}

func locatedForm(suffix string) uploadForm {
	return uploadForm{
		data: pngWith(suffix),
		fields: map[string]string{
			"uploaded_by":   "asha",
			"latitude":      "12.9352",
			"longitude":     "77.6245",
			"location_name": "Koramangala, Bengaluru, Karnataka, India",
		},
	}
}

type photoJSON struct {
	ID               string   `json:"id"`
	MediaURL         string   `json:"mediaUrl"`
	Latitude         *float64 `json:"latitude"`
	UploadedBy       string   `json:"uploadedBy"`
	LikeCount        int64    `json:"likeCount"`
	ReportCount      int64    `json:"reportCount"`
	IsFlagged        bool     `json:"isFlagged"`
	ModerationStatus string   `json:"moderationStatus"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *testServer) upload(t *testing.T, form uploadForm) photoJSON {
	t.Helper()
	rec := s.do(t, uploadRequest(t, form))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Data photoJSON `json:"data"`
	}
	decode(t, rec, &out)
	return out.Data
}

func TestUploadAndDuplicate(t *testing.T) {
	s := newTestServer(t)

	created := s.upload(t, locatedForm("a"))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "approved", created.ModerationStatus)
	assert.Equal(t, "asha", created.UploadedBy)
	assert.Equal(t, "https://cdn.test/b1", created.MediaURL)

	rec := s.do(t, uploadRequest(t, locatedForm("a")))
	require.Equal(t, http.StatusConflict, rec.Code)
	var dup struct {
		Error string    `json:"error"`
		Data  photoJSON `json:"data"`
	}
	decode(t, rec, &dup)
	assert.Equal(t, archive.ErrDuplicateContent.Error(), dup.Error)
	assert.Equal(t, created.ID, dup.Data.ID)
	assert.Equal(t, created.MediaURL, dup.Data.MediaURL)
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		form uploadForm
	}{
		{"missing image", uploadForm{fields: map[string]string{"uploaded_by": "asha"}}},
		{"not an image", uploadForm{data: []byte("%PDF-1.7 hello"), contentType: "application/pdf"}},
		{"sniffed as text", uploadForm{data: []byte("just some text")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, uploadRequest(t, tt.form))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	form := uploadForm{data: append(pngWith(""), make([]byte, archive.MaxUploadBytes)...)}
	rec := s.do(t, uploadRequest(t, form))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "10MB")
}

func TestUploadDropsUnparseableCoordinates(t *testing.T) {
	s := newTestServer(t)
	form := locatedForm("a")
	form.fields["latitude"] = "north"

	p := s.upload(t, form)
	assert.Nil(t, p.Latitude)
}

func TestUploadRateLimited(t *testing.T) {
	s := newTestServer(t, func(_ *archive.Options, o *Options) {
		o.UploadLimiter = NewUploadLimiter(time.Hour)
	})
	s.upload(t, locatedForm("a"))
	rec := s.do(t, uploadRequest(t, locatedForm("b")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

type searchJSON struct {
	Items      []photoJSON        `json:"items"`
	Pagination archive.Pagination `json:"pagination"`
	TopRegions []struct {
		Region string `json:"region"`
		Slug   string `json:"slug"`
		Count  int64  `json:"count"`
	} `json:"topRegions"`
	Leaderboards struct {
		Week  []archive.LeaderboardEntry `json:"week"`
		Month []archive.LeaderboardEntry `json:"month"`
	} `json:"leaderboards"`
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, locatedForm("a"))
	s.upload(t, locatedForm("b"))

	rec := s.get(t, "/api/images?page_size=1", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var res searchJSON
	decode(t, rec, &res)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, archive.Pagination{Page: 1, PageSize: 1, Total: 2, HasMore: true}, res.Pagination)
	require.Len(t, res.TopRegions, 1)
	assert.Equal(t, "Karnataka", res.TopRegions[0].Region)
	assert.Equal(t, []archive.LeaderboardEntry{{Name: "asha", Count: 2}}, res.Leaderboards.Week)

	rec = s.get(t, "/api/images?bbox=-10,50,0,60", false)
	require.Equal(t, http.StatusOK, rec.Code)
	res = searchJSON{}
	decode(t, rec, &res)
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
	assert.False(t, res.Pagination.HasMore)
}

func TestSearchRejectsMalformedFilters(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{
		"bbox=1,2,3",
		"bbox=68,8,98,abc",
		"bbox=98,8,68,37",
		"date_from=yesterday",
		"page=two",
		"page_size=1.5",
		"include_unlocated=maybe",
	} {
		rec := s.get(t, "/api/images?"+q, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSearchIncludePendingRequiresAdmin(t *testing.T) {
	s := newTestServer(t, func(a *archive.Options, _ *Options) { a.ModerationEnabled = true })
	s.upload(t, locatedForm("a"))

	rec := s.get(t, "/api/images", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var res searchJSON
	decode(t, rec, &res)
	assert.Empty(t, res.Items)

	rec = s.get(t, "/api/images?include_pending=true", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.get(t, "/api/images?include_pending=true", true)
	require.Equal(t, http.StatusOK, rec.Code)
	res = searchJSON{}
	decode(t, rec, &res)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "pending", res.Items[0].ModerationStatus)
}

func TestPhotoVisibility(t *testing.T) {
	s := newTestServer(t, func(a *archive.Options, _ *Options) { a.ModerationEnabled = true })
	p := s.upload(t, locatedForm("a"))

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/images/"+p.ID, false).Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/api/images/"+p.ID, true).Code)
	assert.Equal(t, http.StatusNotFound, s.post(t, "/api/images/"+p.ID+"/like").Code)
	assert.Equal(t, http.StatusNotFound, s.post(t, "/api/images/"+p.ID+"/report").Code)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/images/missing", false).Code)
}

func TestLikeReportAndModerate(t *testing.T) {
	s := newTestServer(t)
	p := s.upload(t, locatedForm("a"))

	rec := s.post(t, "/api/images/"+p.ID+"/like")
	require.Equal(t, http.StatusOK, rec.Code)
	var liked struct {
		Data struct {
			ID        string `json:"id"`
			LikeCount int64  `json:"likeCount"`
		} `json:"data"`
	}
	decode(t, rec, &liked)
	assert.EqualValues(t, 1, liked.Data.LikeCount)

	var report struct {
		Data archive.ReportResult `json:"data"`
	}
	for i := 0; i < 3; i++ {
		rec = s.post(t, "/api/images/"+p.ID+"/report")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	decode(t, rec, &report)
	assert.Equal(t, archive.ReportResult{ID: p.ID, ReportCount: 3, IsFlagged: true}, report.Data)

	rec = s.get(t, "/api/moderation/pending", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue struct {
		Data []photoJSON `json:"data"`
	}
	decode(t, rec, &queue)
	require.Len(t, queue.Data, 1)
	assert.True(t, queue.Data[0].IsFlagged)

	rec = s.moderate(t, p.ID, `{"action":"approve"}`, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var approved struct {
		Data photoJSON `json:"data"`
	}
	decode(t, rec, &approved)
	assert.Zero(t, approved.Data.ReportCount)
	assert.False(t, approved.Data.IsFlagged)

	rec = s.get(t, "/api/moderation/pending", true)
	queue.Data = nil
	decode(t, rec, &queue)
	assert.Empty(t, queue.Data)
}

func TestModerationAuth(t *testing.T) {
	s := newTestServer(t)
	p := s.upload(t, locatedForm("a"))

	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/api/moderation/pending", false).Code)
	assert.Equal(t, http.StatusUnauthorized, s.moderate(t, p.ID, `{"action":"reject"}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.moderate(t, p.ID, `{"action":"reject"}`, "wrong").Code)
	assert.Equal(t, http.StatusBadRequest, s.moderate(t, p.ID, `{"action":"delete"}`, testToken).Code)
	assert.Equal(t, http.StatusBadRequest, s.moderate(t, p.ID, `{}`, testToken).Code)
	assert.Equal(t, http.StatusNotFound, s.moderate(t, "missing", `{"action":"reject"}`, testToken).Code)

	rec := s.get(t, "/api/moderation/pending?token="+testToken, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, func(_ *archive.Options, o *Options) { o.AdminToken = "" })
	req := httptest.NewRequest(http.MethodGet, "/api/moderation/pending", nil)
	req.Header.Set(adminTokenHeader, "")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)
	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/api/images?include_pending=1", true).Code)
}

func TestRegionsAndContributors(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, locatedForm("a"))
	form := locatedForm("b")
	form.fields["location_name"] = "Chennai, Tamil Nadu, India"
	form.fields["uploaded_by"] = "ravi"
	s.upload(t, form)

	rec := s.get(t, "/api/regions", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var regions struct {
		Data []archive.RegionCount `json:"data"`
	}
	decode(t, rec, &regions)
	assert.Len(t, regions.Data, 2)

	rec = s.get(t, "/api/regions/tamil-nadu", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data struct {
			Region string      `json:"region"`
			Items  []photoJSON `json:"items"`
		} `json:"data"`
	}
	decode(t, rec, &page)
	assert.Equal(t, "Tamil Nadu", page.Data.Region)
	require.Len(t, page.Data.Items, 1)
	assert.Equal(t, "ravi", page.Data.Items[0].UploadedBy)

	rec = s.get(t, "/api/contributors/ravi", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile struct {
		Data struct {
			Name      string `json:"name"`
			Total     int64  `json:"total"`
			LastMonth int64  `json:"lastMonth"`
		} `json:"data"`
	}
	decode(t, rec, &profile)
	assert.Equal(t, "ravi", profile.Data.Name)
	assert.EqualValues(t, 1, profile.Data.Total)
	assert.EqualValues(t, 1, profile.Data.LastMonth)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := s.get(t, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	s.upload(t, locatedForm("a"))
	rec = s.get(t, "/metrics", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `skyarchive_uploads_total{outcome="created"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/upload"`)
}

func TestUploadBlobFailure(t *testing.T) {
	s := newTestServer(t, func(o *archive.Options, _ *Options) { o.Blob = failingBlob{} })

	rec := s.do(t, uploadRequest(t, locatedForm("a")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, archive.ErrUploadFailed.Error(), body.Error)

	rec = s.get(t, "/api/images?include_unlocated=true", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestHealthReportsUnavailableStore(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Close())

	rec := s.get(t, "/healthz", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unavailable"`)
	assert.Contains(t, rec.Body.String(), "store")
}

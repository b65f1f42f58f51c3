package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sujalbistaa/skyarchive/internal/archive"
	"github.com/sujalbistaa/skyarchive/internal/ws"
)

// multipartOverhead leaves room for form fields around the image part.
const multipartOverhead = 1 << 20

const healthTimeout = 2 * time.Second

type ModerationInput struct {
	Action string `json:"action" binding:"required"`
}

// --- Handlers ---
type Env struct {
	Archive *archive.Service
	Hub     *ws.Hub
	Log     zerolog.Logger
}

// writeError maps the archive error taxonomy onto status codes. Transient
// failures are logged and reported generically.
func (e *Env) writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, archive.ErrValidation), errors.Is(err, archive.ErrInvalidAction):
		status = http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, archive.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, archive.ErrUploadFailed):
		e.Log.Error().Err(err).Str("route", c.FullPath()).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": archive.ErrUploadFailed.Error()})
		return
	default:
		e.Log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error, please retry"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (e *Env) UploadPhoto(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, archive.MaxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e.writeError(c, archive.ErrPayloadTooLarge)
			return
		}
		e.writeError(c, archive.ErrEmptyUpload)
		return
	}

	f, err := fh.Open()
	if err != nil {
		e.writeError(c, err)
		return
	}
	defer f.Close()
	// One byte past the limit is enough to know the upload is too large.
	data, err := io.ReadAll(io.LimitReader(f, archive.MaxUploadBytes+1))
	if err != nil {
		e.writeError(c, err)
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if ct := strings.ToLower(contentType); ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		contentType = mimetype.Detect(data).String()
	}

	up := archive.Upload{
		Data:         data,
		ContentType:  contentType,
		DeclaredSize: fh.Size,
		UploadedBy:   c.PostForm("uploaded_by"),
		Latitude:     parseCoordinate(c.PostForm("latitude")),
		Longitude:    parseCoordinate(c.PostForm("longitude")),
		LocationName: c.PostForm("location_name"),
	}

	photo, err := e.Archive.Ingest(c.Request.Context(), up)
	if errors.Is(err, archive.ErrDuplicateContent) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "data": photo})
		return
	}
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": photo})
}

func (e *Env) SearchPhotos(c *gin.Context) {
	req, err := ParseSearch(c.Request.URL.Query())
	if err != nil {
		e.writeError(c, err)
		return
	}
	if req.Filter.IncludePending && !isAdmin(c) {
		e.writeError(c, archive.ErrUnauthorized)
		return
	}

	res, err := e.Archive.Search(c.Request.Context(), req)
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (e *Env) GetPhoto(c *gin.Context) {
	photo, err := e.Archive.Photo(c.Request.Context(), c.Param("id"), isAdmin(c))
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": photo})
}

func (e *Env) LikePhoto(c *gin.Context) {
	id := c.Param("id")
	n, err := e.Archive.Like(c.Request.Context(), id)
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "likeCount": n}})
}

func (e *Env) ReportPhoto(c *gin.Context) {
	res, err := e.Archive.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (e *Env) ModerationQueue(c *gin.Context) {
	photos, err := e.Archive.ModerationQueue(c.Request.Context())
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": photos})
}

func (e *Env) ModeratePhoto(c *gin.Context) {
	var input ModerationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	photo, err := e.Archive.Moderate(c.Request.Context(), c.Param("id"), input.Action)
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": photo})
}

func (e *Env) ModerationEvents(c *gin.Context) {
	ws.ServeWs(e.Hub, c.Writer, c.Request)
}

func (e *Env) ListRegions(c *gin.Context) {
	regions, err := e.Archive.Regions(c.Request.Context())
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": regions})
}

func (e *Env) RegionPhotos(c *gin.Context) {
	page, err := e.Archive.RegionPhotos(c.Request.Context(), c.Param("slug"))
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": page})
}

func (e *Env) Contributor(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		e.writeError(c, archive.ErrNotFound)
		return
	}
	profile, err := e.Archive.Contributor(c.Request.Context(), name)
	if err != nil {
		e.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

func (e *Env) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := e.Archive.Ping(ctx); err != nil {
		e.Log.Warn().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.String(http.StatusOK, "ok")
}

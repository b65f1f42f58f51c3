package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/skyarchive/internal/models"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	for _, url := range []string{"", "not a url", "redis://127.0.0.1:1/0"} {
		c := New(url, zerolog.Nop())
		assert.False(t, c.Enabled(), url)

		ctx := context.Background()
		require.NoError(t, c.SetPhoto(ctx, &models.Photo{ID: "a"}))
		p, err := c.GetPhoto(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, p)
		require.NoError(t, c.InvalidatePhoto(ctx, "a"))
		require.NoError(t, c.Ping(ctx))
		require.NoError(t, c.Close())
	}
}

func TestPhotoKey(t *testing.T) {
	assert.Equal(t, "photo:abc", photoKey("abc"))
}

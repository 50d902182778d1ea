package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newUploader(t *testing.T, maxBytes int64) (*DiskUploader, string) {
	dir := t.TempDir()
	u, err := NewDiskUploader(dir, "/uploads/", maxBytes, zap.NewNop())
	require.NoError(t, err)
	return u, dir
}

func TestUploadImageProducesVariantAndThumbnail(t *testing.T) {
	u, dir := newUploader(t, 0)

	res, err := u.Upload(context.Background(), pngBytes(t, 800, 400), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "png", res.Format)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 400, res.Height)
	assert.True(t, strings.HasPrefix(res.URL, "/uploads/"))
	require.NotNil(t, res.Variant)
	require.NotNil(t, res.Thumbnail)
	assert.Equal(t, models.ContentImage, res.ContentType())

	f, err := os.Open(filepath.Join(dir, filepath.Base(res.Thumbnail.URL)))
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 160, cfg.Height)

	ref := res.MediaRef()
	assert.Equal(t, res.URL, ref.URL)
	assert.Equal(t, res.Thumbnail, ref.Thumbnail)
}

func TestUploadVideoStoresRaw(t *testing.T) {
	u, dir := newUploader(t, 0)

	res, err := u.Upload(context.Background(), []byte("not really a video"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "mp4", res.Format)
	assert.Nil(t, res.Thumbnail)
	assert.Equal(t, models.ContentVideo, res.ContentType())
	_, err = os.Stat(filepath.Join(dir, filepath.Base(res.URL)))
	assert.NoError(t, err)
}

func TestUploadFailures(t *testing.T) {
	u, _ := newUploader(t, 10)
	ctx := context.Background()

	_, err := u.Upload(ctx, nil, "image/png")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = u.Upload(ctx, bytes.Repeat([]byte("x"), 11), "video/mp4")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = u.Upload(ctx, []byte("x"), "application/pdf")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = u.Upload(ctx, []byte("garbage"), "image/png")
	assert.True(t, apperr.Is(err, apperr.CodeUploadFailed))
}

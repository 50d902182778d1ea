package media

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

const (
	thumbnailSize  = 320
	normalizedSize = 1280
	jpegQuality    = 85
)

// Uploader turns raw bytes into a hosted asset.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (UploadResult, error)
}

// UploadResult describes a stored asset.
type UploadResult struct {
	URL       string               `json:"url"`
	Variant   *models.MediaVariant `json:"variant,omitempty"`
	Thumbnail *models.Thumbnail    `json:"thumbnail,omitempty"`
	PublicID  string               `json:"public_id"`
	Format    string               `json:"format"`
	Bytes     int                  `json:"bytes"`
	Width     int                  `json:"width,omitempty"`
	Height    int                  `json:"height,omitempty"`
	Duration  float64              `json:"duration,omitempty"`
}

// MediaRef converts the result into the value stored on messages and stories.
func (r UploadResult) MediaRef() models.MediaRef {
	return models.MediaRef{URL: r.URL, Variant: r.Variant, Thumbnail: r.Thumbnail}
}

// ContentType maps the upload format to a message content type.
func (r UploadResult) ContentType() models.ContentType {
	if _, ok := videoFormats[r.Format]; ok {
		return models.ContentVideo
	}
	return models.ContentImage
}

var imageFormats = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
}

var videoFormats = map[string]struct{}{
	"mp4":  {},
	"mov":  {},
	"webm": {},
}

var videoMimes = map[string]string{
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/webm":      "webm",
}

// DiskUploader stores assets in a local directory served under a public prefix.
type DiskUploader struct {
	dir      string
	prefix   string
	maxBytes int64
	logger   *zap.Logger
}

func NewDiskUploader(dir, publicPrefix string, maxBytes int64, logger *zap.Logger) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskUploader{dir: dir, prefix: strings.TrimSuffix(publicPrefix, "/"), maxBytes: maxBytes, logger: logger}, nil
}

func (u *DiskUploader) Upload(ctx context.Context, data []byte, mimeType string) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, apperr.Validation("empty upload")
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return UploadResult{}, apperr.Validation("file too large")
	}
	if err := ctx.Err(); err != nil {
		return UploadResult{}, apperr.Upload("upload cancelled", err)
	}

	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	id := uuid.NewString()

	if ext, ok := imageFormats[mimeType]; ok {
		return u.storeImage(id, ext, data)
	}
	if ext, ok := videoMimes[mimeType]; ok {
		name := id + "." + ext
		if err := u.write(name, data); err != nil {
			return UploadResult{}, err
		}
		return UploadResult{
			URL:      u.url(name),
			PublicID: id,
			Format:   ext,
			Bytes:    len(data),
		}, nil
	}
	return UploadResult{}, apperr.Validation("unsupported media type " + mimeType)
}

func (u *DiskUploader) storeImage(id, ext string, data []byte) (UploadResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, apperr.Upload("failed to decode image", err)
	}

	original := id + "." + ext
	if err := u.write(original, data); err != nil {
		return UploadResult{}, err
	}

	normalized := id + "_normal.jpg"
	if err := u.writeJPEG(normalized, resize.Thumbnail(normalizedSize, normalizedSize, img, resize.Lanczos3)); err != nil {
		return UploadResult{}, err
	}
	thumb := id + "_thumb.jpg"
	if err := u.writeJPEG(thumb, resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Lanczos3)); err != nil {
		return UploadResult{}, err
	}

	variant := &models.MediaVariant{IOSURL: u.url(normalized), NormalURL: u.url(normalized)}
	bounds := img.Bounds()
	u.logger.Debug("image stored", zap.String("public_id", id), zap.Int("bytes", len(data)))
	return UploadResult{
		URL:       u.url(original),
		Variant:   variant,
		Thumbnail: &models.Thumbnail{URL: u.url(thumb), Variant: &models.MediaVariant{IOSURL: u.url(thumb), NormalURL: u.url(thumb)}},
		PublicID:  id,
		Format:    ext,
		Bytes:     len(data),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

func (u *DiskUploader) writeJPEG(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return apperr.Upload("failed to encode image", err)
	}
	return u.write(name, buf.Bytes())
}

func (u *DiskUploader) write(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(u.dir, name), data, 0o644); err != nil {
		u.logger.Error("media write failed", zap.String("name", name), zap.Error(err))
		return apperr.Upload("failed to store file", err)
	}
	return nil
}

func (u *DiskUploader) url(name string) string {
	return path.Join(u.prefix, name)
}

package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
)

/*
Gateway is the object storage the upload and rendition code consumes. All keys
live in a single bucket. Every error returned by a Gateway is an oops error of
kind Storage; missing objects additionally wrap ErrNotFound.
*/
type Gateway interface {
	CreateMultipartUpload(ctx context.Context, key, mime string) (uploadID string, err error)
	PresignPartURL(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (finalKey string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	GetObject(ctx context.Context, key string, w io.Writer) (int64, error)
	PutObject(ctx context.Context, key, mime string, r io.Reader, size int64) error
	PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Bucket() string
}

type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

var ErrNotFound = errors.New("object not found")

// The maximum number of parts in a multipart upload, shared by S3 and MinIO.
const MaxParts = 10000

// Creates the gateway for the configured backend. The in-memory backend keeps
// everything in process and signs URLs against cfg.DevBaseUrl.
func Open(ctx context.Context, cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return NewS3Gateway(ctx, cfg)
	case config.StorageMinio:
		return NewMinioGateway(cfg)
	case config.StorageMemory:
		return NewMemoryGateway(cfg.Bucket, cfg.DevBaseUrl), nil
	}
	return nil, oops.New(nil, "unknown storage backend %q", cfg.Backend)
}

var REIllegalFilenameChars = regexp.MustCompile(`[^\w\-.]`)

// Makes a file name safe to use as the last segment of an object key.
func SanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	filename = strings.Trim(filename, ".")
	if filename == "" {
		return "unnamed"
	}
	return REIllegalFilenameChars.ReplaceAllString(filename, "_")
}

func TempKey(uploadID, filename string) string {
	return "uploads/" + uploadID + "/" + SanitizeFilename(filename)
}

func FinalKey(sessionID, filename string) string {
	return "assets/" + sessionID + "/" + SanitizeFilename(filename)
}

// Strips a surrounding pair of quotes, which S3 includes in ETags and browsers
// often pass along verbatim.
func NormalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

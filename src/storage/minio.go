package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// A Gateway for MinIO deployments, using the low-level multipart APIs of
// minio.Core.
type MinioGateway struct {
	core   *minio.Core
	bucket string
}

var _ Gateway = &MinioGateway{}

func NewMinioGateway(cfg config.StorageConfig) (*MinioGateway, error) {
	// minio-go wants host:port, not a URL.
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, oops.New(err, "failed to create MinIO client")
	}

	return &MinioGateway{
		core:   core,
		bucket: cfg.Bucket,
	}, nil
}

func (g *MinioGateway) Bucket() string {
	return g.bucket
}

func (g *MinioGateway) CreateMultipartUpload(ctx context.Context, key, mime string) (string, error) {
	uploadID, err := g.core.NewMultipartUpload(ctx, g.bucket, key, minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return "", minioError(err, "failed to create multipart upload for %s", key)
	}
	return uploadID, nil
}

func (g *MinioGateway) PresignPartURL(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(int(partNumber)))

	u, err := g.core.Presign(ctx, http.MethodPut, g.bucket, key, ttl, params)
	if err != nil {
		return "", minioError(err, "failed to presign part %d of %s", partNumber, key)
	}
	return u.String(), nil
}

func (g *MinioGateway) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{
			PartNumber: int(p.PartNumber),
			ETag:       p.ETag,
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})

	info, err := g.core.CompleteMultipartUpload(ctx, g.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", minioError(err, "failed to complete multipart upload for %s", key)
	}
	if info.Key != "" {
		return info.Key, nil
	}
	return key, nil
}

func (g *MinioGateway) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := g.core.AbortMultipartUpload(ctx, g.bucket, key, uploadID); err != nil {
		return minioError(err, "failed to abort multipart upload for %s", key)
	}
	return nil
}

func (g *MinioGateway) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := g.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: g.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: g.bucket, Object: srcKey},
	)
	if err != nil {
		return minioError(err, "failed to copy %s to %s", srcKey, dstKey)
	}
	return nil
}

func (g *MinioGateway) GetObject(ctx context.Context, key string, w io.Writer) (int64, error) {
	body, _, _, err := g.core.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, minioError(err, "failed to get %s", key)
	}
	defer body.Close()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, minioError(err, "failed to download %s", key)
	}
	return n, nil
}

func (g *MinioGateway) PutObject(ctx context.Context, key, mime string, r io.Reader, size int64) error {
	_, err := g.core.Client.PutObject(ctx, g.bucket, key, r, size, minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return minioError(err, "failed to put %s", key)
	}
	return nil
}

func (g *MinioGateway) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.core.PresignedGetObject(ctx, g.bucket, key, ttl, nil)
	if err != nil {
		return "", minioError(err, "failed to presign download of %s", key)
	}
	return u.String(), nil
}

func minioError(err error, format string, args ...any) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchUpload":
		return oops.Storage(ErrNotFound, format, args...)
	}
	return oops.Storage(err, format, args...)
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

var _ Gateway = &S3Gateway{}

func NewS3Gateway(ctx context.Context, cfg config.StorageConfig) (*S3Gateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.New(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

func (g *S3Gateway) Bucket() string {
	return g.bucket
}

func (g *S3Gateway) CreateMultipartUpload(ctx context.Context, key, mime string) (string, error) {
	out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return "", s3Error(err, "failed to create multipart upload for %s", key)
	}
	return aws.ToString(out.UploadId), nil
}

func (g *S3Gateway) PresignPartURL(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	req, err := g.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s3Error(err, "failed to presign part %d of %s", partNumber, key)
	}
	return req.URL, nil
}

func (g *S3Gateway) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	out, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", s3Error(err, "failed to complete multipart upload for %s", key)
	}
	if out.Key != nil {
		return *out.Key, nil
	}
	return key, nil
}

func (g *S3Gateway) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return s3Error(err, "failed to abort multipart upload for %s", key)
	}
	return nil
}

func (g *S3Gateway) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(g.bucket + "/" + srcKey),
	})
	if err != nil {
		return s3Error(err, "failed to copy %s to %s", srcKey, dstKey)
	}
	return nil
}

func (g *S3Gateway) GetObject(ctx context.Context, key string, w io.Writer) (int64, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, s3Error(err, "failed to get %s", key)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, oops.Storage(err, "failed to download %s", key)
	}
	return n, nil
}

func (g *S3Gateway) PutObject(ctx context.Context, key, mime string, r io.Reader, size int64) error {
	// Payload signing needs to rewind the body.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(r)
		if err != nil {
			return oops.Storage(err, "failed to read body for %s", key)
		}
		body = bytes.NewReader(buf)
	}

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(mime),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return s3Error(err, "failed to put %s", key)
	}
	return nil
}

func (g *S3Gateway) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s3Error(err, "failed to presign download of %s", key)
	}
	return req.URL, nil
}

// Missing keys wrap ErrNotFound; everything else keeps the SDK error.
func s3Error(err error, format string, args ...any) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return oops.Storage(ErrNotFound, format, args...)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return oops.Storage(ErrNotFound, format, args...)
		}
	}
	return oops.Storage(err, format, args...)
}

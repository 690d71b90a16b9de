package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/google/uuid"
)

/*
MemoryGateway keeps objects and multipart uploads in process. It backs dev mode
and tests. Presigned URLs point at baseURL and carry an HMAC signature that
VerifySignature checks; the devstorage package serves them over HTTP.

Completing an upload requires the listed parts to be exactly 1..N, each one
uploaded with a matching ETag, which is stricter than S3.
*/
type MemoryGateway struct {
	bucket  string
	baseURL string
	secret  []byte
	now     func() time.Time

	mu      sync.Mutex
	objects map[string]memObject
	uploads map[string]*memUpload
}

type memObject struct {
	data []byte
	mime string
}

type memUpload struct {
	key   string
	mime  string
	parts map[int32][]byte
	etags map[int32]string
}

var _ Gateway = &MemoryGateway{}

func NewMemoryGateway(bucket, baseURL string) *MemoryGateway {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(oops.New(err, "failed to generate signing secret"))
	}
	return &MemoryGateway{
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
		objects: make(map[string]memObject),
		uploads: make(map[string]*memUpload),
	}
}

func (g *MemoryGateway) Bucket() string {
	return g.bucket
}

func (g *MemoryGateway) CreateMultipartUpload(ctx context.Context, key, mime string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", oops.Storage(err, "failed to create multipart upload for %s", key)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	uploadID := uuid.NewString()
	g.uploads[uploadID] = &memUpload{
		key:   key,
		mime:  mime,
		parts: make(map[int32][]byte),
		etags: make(map[int32]string),
	}
	return uploadID, nil
}

func (g *MemoryGateway) PresignPartURL(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	g.mu.Lock()
	upload, ok := g.uploads[uploadID]
	g.mu.Unlock()
	if !ok || upload.key != key {
		return "", oops.Storage(ErrNotFound, "no multipart upload %s for %s", uploadID, key)
	}

	q := url.Values{}
	q.Set("uploadId", uploadID)
	q.Set("partNumber", strconv.Itoa(int(partNumber)))
	return g.signedURL(http.MethodPut, key, q, ttl), nil
}

// Stores one part of a multipart upload and returns its quoted ETag.
func (g *MemoryGateway) UploadPart(uploadID string, partNumber int32, data []byte) (string, error) {
	if partNumber < 1 || partNumber > MaxParts {
		return "", oops.Storage(nil, "invalid part number %d", partNumber)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	upload, ok := g.uploads[uploadID]
	if !ok {
		return "", oops.Storage(ErrNotFound, "no multipart upload %s", uploadID)
	}
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	upload.parts[partNumber] = append([]byte(nil), data...)
	upload.etags[partNumber] = etag
	return etag, nil
}

func (g *MemoryGateway) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	upload, ok := g.uploads[uploadID]
	if !ok || upload.key != key {
		return "", oops.Storage(ErrNotFound, "no multipart upload %s for %s", uploadID, key)
	}
	if len(parts) == 0 {
		return "", oops.Storage(nil, "multipart upload %s: no parts given", uploadID)
	}

	parts = append([]Part(nil), parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	var assembled bytes.Buffer
	for i, p := range parts {
		want := int32(i + 1)
		if p.PartNumber != want {
			return "", oops.Storage(nil, "multipart upload %s: expected part %d but got part %d", uploadID, want, p.PartNumber)
		}
		etag, uploaded := upload.etags[p.PartNumber]
		if !uploaded {
			return "", oops.Storage(nil, "multipart upload %s: part %d was never uploaded", uploadID, p.PartNumber)
		}
		if NormalizeETag(etag) != NormalizeETag(p.ETag) {
			return "", oops.Storage(nil, "multipart upload %s: etag mismatch for part %d", uploadID, p.PartNumber)
		}
		assembled.Write(upload.parts[p.PartNumber])
	}

	g.objects[key] = memObject{data: assembled.Bytes(), mime: upload.mime}
	delete(g.uploads, uploadID)
	return key, nil
}

func (g *MemoryGateway) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.uploads[uploadID]; !ok {
		return oops.Storage(ErrNotFound, "no multipart upload %s for %s", uploadID, key)
	}
	delete(g.uploads, uploadID)
	return nil
}

func (g *MemoryGateway) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	obj, ok := g.objects[srcKey]
	if !ok {
		return oops.Storage(ErrNotFound, "failed to copy %s to %s", srcKey, dstKey)
	}
	g.objects[dstKey] = obj
	return nil
}

func (g *MemoryGateway) GetObject(ctx context.Context, key string, w io.Writer) (int64, error) {
	data, _, err := g.ReadObject(key)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	if err != nil {
		return n, oops.Storage(err, "failed to download %s", key)
	}
	return n, nil
}

func (g *MemoryGateway) PutObject(ctx context.Context, key, mime string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return oops.Storage(err, "failed to read body for %s", key)
	}
	if size >= 0 && int64(len(data)) != size {
		return oops.Storage(nil, "put %s: expected %d bytes but read %d", key, size, len(data))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key] = memObject{data: data, mime: mime}
	return nil
}

func (g *MemoryGateway) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return g.signedURL(http.MethodGet, key, url.Values{}, ttl), nil
}

// Returns a copy of a stored object and its content type.
func (g *MemoryGateway) ReadObject(key string) ([]byte, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	obj, ok := g.objects[key]
	if !ok {
		return nil, "", oops.Storage(ErrNotFound, "failed to get %s", key)
	}
	return append([]byte(nil), obj.data...), obj.mime, nil
}

func (g *MemoryGateway) DeleteObject(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, key)
}

func (g *MemoryGateway) HasObject(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.objects[key]
	return ok
}

func (g *MemoryGateway) OpenUploads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uploads)
}

// Checks the expiry and signature of a presigned request for key.
func (g *MemoryGateway) VerifySignature(method, key string, q url.Values) error {
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return oops.Validation("missing or malformed expiry")
	}
	if g.now().Unix() > expires {
		return oops.Validation("presigned URL expired")
	}
	want := g.sign(method, key, q.Get("uploadId"), q.Get("partNumber"), expires)
	if !hmac.Equal([]byte(want), []byte(q.Get("signature"))) {
		return oops.Validation("bad signature")
	}
	return nil
}

func (g *MemoryGateway) signedURL(method, key string, q url.Values, ttl time.Duration) string {
	expires := g.now().Add(ttl).Unix()
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", g.sign(method, key, q.Get("uploadId"), q.Get("partNumber"), expires))
	return fmt.Sprintf("%s/%s/%s?%s", g.baseURL, g.bucket, key, q.Encode())
}

func (g *MemoryGateway) sign(method, key, uploadID, partNumber string, expires int64) string {
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s\n%d", method, key, uploadID, partNumber, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

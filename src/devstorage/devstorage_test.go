package devstorage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"git.handmade.network/hmn/assetpipe/src/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *storage.MemoryGateway) {
	t.Helper()
	g := storage.NewMemoryGateway("assets", "")
	srv := httptest.NewServer(NewHandler(g))
	t.Cleanup(srv.Close)
	return srv, g
}

// Presigned URLs are generated against an empty base URL, so they are just
// paths and can be pointed at the test server.
func at(srv *httptest.Server, signed string) string {
	return srv.URL + signed
}

func TestPartUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	srv, g := newServer(t)

	uploadID, err := g.CreateMultipartUpload(ctx, "uploads/s1/doc.pdf", "application/pdf")
	require.Nil(t, err)

	var parts []storage.Part
	for i, chunk := range []string{"hello, ", "world"} {
		signed, err := g.PresignPartURL(ctx, "uploads/s1/doc.pdf", uploadID, int32(i+1), time.Minute)
		require.Nil(t, err)

		req, err := http.NewRequest(http.MethodPut, at(srv, signed), strings.NewReader(chunk))
		require.Nil(t, err)
		res, err := http.DefaultClient.Do(req)
		require.Nil(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEmpty(t, res.Header.Get("ETag"))

		parts = append(parts, storage.Part{PartNumber: int32(i + 1), ETag: res.Header.Get("ETag")})
	}

	_, err = g.CompleteMultipartUpload(ctx, "uploads/s1/doc.pdf", uploadID, parts)
	require.Nil(t, err)

	signed, err := g.PresignGetURL(ctx, "uploads/s1/doc.pdf", time.Minute)
	require.Nil(t, err)
	res, err := http.Get(at(srv, signed))
	require.Nil(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	assert.Equal(t, "hello, world", string(body))
}

func TestRejectsTamperedRequests(t *testing.T) {
	ctx := context.Background()
	srv, g := newServer(t)
	require.Nil(t, g.PutObject(ctx, "renditions/v1/thumb-512.png", "image/png", bytes.NewReader([]byte("png")), 3))

	signed, err := g.PresignGetURL(ctx, "renditions/v1/thumb-512.png", time.Minute)
	require.Nil(t, err)

	u, err := url.Parse(at(srv, signed))
	require.Nil(t, err)

	t.Run("other key", func(t *testing.T) {
		other := *u
		other.Path = "/assets/renditions/v1/preview-1024.png"
		res, err := http.Get(other.String())
		require.Nil(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})

	t.Run("other method", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, u.String(), strings.NewReader("x"))
		res, err := http.DefaultClient.Do(req)
		require.Nil(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})

	t.Run("wrong bucket", func(t *testing.T) {
		other := *u
		other.Path = "/elsewhere/renditions/v1/thumb-512.png"
		res, err := http.Get(other.String())
		require.Nil(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestMissingObject(t *testing.T) {
	srv, g := newServer(t)
	signed, err := g.PresignGetURL(context.Background(), "nope.png", time.Minute)
	require.Nil(t, err)

	res, err := http.Get(at(srv, signed))
	require.Nil(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestBucketKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/assets/a/b/c.png", nil)
	bucket, key := bucketKey(r)
	assert.Equal(t, "assets", bucket)
	assert.Equal(t, "a/b/c.png", key)

	r = httptest.NewRequest(http.MethodGet, "/assets", nil)
	bucket, key = bucketKey(r)
	assert.Equal(t, "assets", bucket)
	assert.Equal(t, "", key)
}

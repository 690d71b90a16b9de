package website

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/pipeline"
	"git.handmade.network/hmn/assetpipe/src/queue"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"git.handmade.network/hmn/assetpipe/src/uploads"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartSize = 64 * 1024

type testAPI struct {
	srv     *httptest.Server
	store   *assetdata.MemoryStore
	gateway *storage.MemoryGateway
	queue   *queue.MemoryQueue
	worker  *pipeline.Worker
	health  error
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	api := &testAPI{}
	var handler http.Handler
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(api.srv.Close)

	api.store = assetdata.NewMemoryStore()
	api.gateway = storage.NewMemoryGateway("assets", api.srv.URL+"/devstorage")
	api.queue = queue.NewMemoryQueue()
	registry := prometheus.NewRegistry()

	manager := uploads.NewManager(api.store, api.gateway, api.queue, uploads.NewMetrics(registry), uploads.Options{
		PartSize:            testPartSize,
		MaxParts:            storage.MaxParts,
		SessionTTL:          24 * time.Hour,
		PresignTTL:          10 * time.Minute,
		WorkQueue:           "preview",
		AbortRemoteOnExpiry: true,
	})
	api.worker = pipeline.NewWorker(api.queue, api.store, api.gateway,
		pipeline.NewDispatcher(config.RenderConfig{TileConcurrency: 2}),
		pipeline.NewMetrics(registry),
		pipeline.Options{
			WorkQueue:       "preview",
			DeadLetterQueue: "preview:dlq",
			DequeueTimeout:  20 * time.Millisecond,
			ScratchDir:      t.TempDir(),
			UnsupportedMime: config.UnsupportedSkip,
		},
	)

	handler = NewAssetpipeRoutes(Services{
		Uploads:    manager,
		Renditions: api.store,
		Gateway:    api.gateway,
		PresignTTL: 10 * time.Minute,
		Health: func(ctx context.Context) error {
			return api.health
		},
		Registerer: registry,
		Gatherer:   registry,
	})
	return api
}

func (api *testAPI) do(t *testing.T, method, path, userID string, body any, out any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.Nil(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, api.srv.URL+path, reqBody)
	require.Nil(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.Nil(t, err)
	if out != nil && len(data) > 0 {
		require.Nil(t, json.Unmarshal(data, out), string(data))
	}
	return res
}

func testImage(t *testing.T, w, h, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	data := buf.Bytes()
	require.Less(t, len(data), size)
	return append(data, make([]byte, size-len(data))...)
}

func TestUploadAndRenderOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	data := testImage(t, 400, 300, 2*testPartSize+100)

	var created CreateUploadResponse
	res := api.do(t, http.MethodPost, "/uploads", "user-7", CreateUploadRequest{
		Target:    models.UploadTargetNewAsset,
		FileName:  "whiteboard.png",
		Mime:      "image/png",
		TotalSize: int64(len(data)),
	}, &created)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, 3, created.PartCount)
	assert.Equal(t, "assets", created.Bucket)
	assert.Equal(t, "uploads/"+created.UploadID.String()+"/whiteboard.png", created.Key)

	var parts []storage.Part
	for i := 0; i < created.PartCount; i++ {
		var partURL PartURLResponse
		res := api.do(t, http.MethodPost, "/uploads/"+created.UploadID.String()+"/parts", "user-7", PartURLRequest{PartNumber: i + 1}, &partURL)
		require.Equal(t, http.StatusOK, res.StatusCode)

		end := (i + 1) * testPartSize
		if end > len(data) {
			end = len(data)
		}
		req, err := http.NewRequest(http.MethodPut, partURL.URL, bytes.NewReader(data[i*testPartSize:end]))
		require.Nil(t, err)
		putRes, err := http.DefaultClient.Do(req)
		require.Nil(t, err)
		putRes.Body.Close()
		require.Equal(t, http.StatusOK, putRes.StatusCode)

		parts = append(parts, storage.Part{PartNumber: int32(i + 1), ETag: putRes.Header.Get("ETag")})
	}

	var completed CompleteUploadResponse
	res = api.do(t, http.MethodPost, "/uploads/"+created.UploadID.String()+"/complete", "user-7", CompleteUploadRequest{Parts: parts}, &completed)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, uuid.Nil, completed.VersionID)

	var again CompleteUploadResponse
	res = api.do(t, http.MethodPost, "/uploads/"+created.UploadID.String()+"/complete", "user-7", CompleteUploadRequest{Parts: parts}, &again)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, completed, again)
	require.Equal(t, 1, api.queue.Len("preview"))

	payload, err := api.queue.Dequeue(context.Background(), "preview", time.Second)
	require.Nil(t, err)
	require.Equal(t, pipeline.OutcomeRendered, api.worker.HandleMessage(context.Background(), payload))

	var listed RenditionsResponse
	res = api.do(t, http.MethodGet, "/renditions/"+completed.VersionID.String(), "user-7", nil, &listed)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, completed.VersionID, listed.VersionID)

	kinds := map[models.RenditionKind]int{}
	for _, r := range listed.Renditions {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[models.RenditionKindThumb])
	assert.Equal(t, 2, kinds[models.RenditionKindPreview])
	assert.Greater(t, kinds[models.RenditionKindTile], 0)

	// Download URLs are served by the dev storage endpoint.
	thumb := listed.Renditions[0]
	require.Equal(t, models.RenditionKindThumb, thumb.Kind)
	getRes, err := http.Get(thumb.URL)
	require.Nil(t, err)
	defer getRes.Body.Close()
	assert.Equal(t, http.StatusOK, getRes.StatusCode)
	assert.Equal(t, "image/png", getRes.Header.Get("Content-Type"))
	cfg, err := png.DecodeConfig(getRes.Body)
	require.Nil(t, err)
	assert.Equal(t, 512, cfg.Width)
}

func TestRequestsNeedIdentity(t *testing.T) {
	api := newTestAPI(t)

	var problem Problem
	res := api.do(t, http.MethodPost, "/uploads", "", CreateUploadRequest{}, &problem)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, problem.Status)
	assert.Equal(t, 0, len(api.allSessions(t)))
}

func (api *testAPI) allSessions(t *testing.T) []*models.UploadSession {
	sessions, err := api.store.ListExpiredSessions(context.Background(), time.Now().Add(1000*time.Hour))
	require.Nil(t, err)
	return sessions
}

func TestUploadErrors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("unknown field", func(t *testing.T) {
		var problem Problem
		res := api.do(t, http.MethodPost, "/uploads", "u", `{"target":"new_asset","name":"a.png"}`, &problem)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, "urn:assetpipe:problem:validation", problem.Type)
	})

	t.Run("validation", func(t *testing.T) {
		var problem Problem
		res := api.do(t, http.MethodPost, "/uploads", "u", CreateUploadRequest{
			Target:    models.UploadTargetNewAsset,
			FileName:  "virus.exe",
			Mime:      "image/png",
			TotalSize: 10,
		}, &problem)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.NotEmpty(t, problem.Detail)
		assert.Equal(t, "/uploads", problem.Instance)
	})

	t.Run("bad id", func(t *testing.T) {
		res := api.do(t, http.MethodPost, "/uploads/not-a-uuid/abort", "u", nil, nil)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("unknown session", func(t *testing.T) {
		res := api.do(t, http.MethodPost, "/uploads/"+uuid.NewString()+"/parts", "u", PartURLRequest{PartNumber: 1}, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("abort then use", func(t *testing.T) {
		var created CreateUploadResponse
		res := api.do(t, http.MethodPost, "/uploads", "u", CreateUploadRequest{
			Target:    models.UploadTargetNewAsset,
			FileName:  "slides.pdf",
			Mime:      "application/pdf",
			TotalSize: 100,
		}, &created)
		require.Equal(t, http.StatusCreated, res.StatusCode)

		path := "/uploads/" + created.UploadID.String()
		res = api.do(t, http.MethodPost, path+"/abort", "u", nil, nil)
		assert.Equal(t, http.StatusNoContent, res.StatusCode)
		res = api.do(t, http.MethodPost, path+"/abort", "u", nil, nil)
		assert.Equal(t, http.StatusNoContent, res.StatusCode)

		var problem Problem
		res = api.do(t, http.MethodPost, path+"/parts", "u", PartURLRequest{PartNumber: 1}, &problem)
		assert.Equal(t, http.StatusConflict, res.StatusCode)
		assert.Contains(t, problem.Detail, "aborted")

		res = api.do(t, http.MethodPost, path+"/complete", "u", CompleteUploadRequest{
			Parts: []storage.Part{{PartNumber: 1, ETag: "x"}},
		}, nil)
		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})

	t.Run("unknown version", func(t *testing.T) {
		res := api.do(t, http.MethodGet, "/renditions/"+uuid.NewString(), "u", nil, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("no route", func(t *testing.T) {
		res := api.do(t, http.MethodDelete, "/uploads", "u", nil, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	api.health = oops.New(nil, "connection refused")
	var problem Problem
	res = api.do(t, http.MethodGet, "/healthz", "", nil, &problem)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Empty(t, problem.Detail)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/healthz", "", nil, nil)

	res, err := http.Get(api.srv.URL + "/metrics")
	require.Nil(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `assetpipe_http_requests_total{code="200",method="GET"`)
}

package devstorage

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/storage"
)

// The largest part we accept, matching S3's 5 GiB limit.
const maxPartSize = 5 * 1024 * 1024 * 1024

/*
Handler serves the presigned URLs of an in-memory gateway, so that a browser
can upload parts and download renditions in dev mode exactly as it would
against S3. Paths look like /<bucket>/<key>; PUT uploads one part of a
multipart upload and GET reads an object.
*/
type Handler struct {
	Gateway *storage.MemoryGateway
}

func NewHandler(g *storage.MemoryGateway) *Handler {
	return &Handler{Gateway: g}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key := bucketKey(r)
	logger := logging.ExtractLogger(r.Context()).With().
		Str("method", r.Method).
		Str("bucket", bucket).
		Str("key", key).
		Logger()

	if bucket != h.Gateway.Bucket() || key == "" {
		http.Error(w, "no such bucket or key", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	signedMethod := r.Method
	if signedMethod == http.MethodHead {
		signedMethod = http.MethodGet
	}
	if err := h.Gateway.VerifySignature(signedMethod, key, q); err != nil {
		logger.Debug().Err(err).Msg("rejected presigned request")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPut:
		partNumber, err := strconv.Atoi(q.Get("partNumber"))
		if err != nil {
			http.Error(w, "bad part number", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPartSize+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) > maxPartSize {
			http.Error(w, "part too large", http.StatusRequestEntityTooLarge)
			return
		}

		etag, err := h.Gateway.UploadPart(q.Get("uploadId"), int32(partNumber), body)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		logger.Debug().Int("partNumber", partNumber).Int("len", len(body)).Msg("stored part")
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, mime, err := h.Gateway.ReadObject(key)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		w.Header().Set("Content-Type", mime)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, storage.ErrNotFound) || oops.Is(err, oops.KindNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func bucketKey(r *http.Request) (string, string) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	slashIdx := strings.IndexByte(path, '/')
	if slashIdx == -1 {
		return path, ""
	}
	return path[:slashIdx], path[slashIdx+1:]
}

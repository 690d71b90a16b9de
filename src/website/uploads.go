package website

import (
	"net/http"
	"time"

	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"git.handmade.network/hmn/assetpipe/src/uploads"
	"github.com/google/uuid"
)

type CreateUploadRequest struct {
	Target    models.UploadTarget `json:"target"`
	AssetID   *uuid.UUID          `json:"assetId,omitempty"`
	FileName  string              `json:"fileName"`
	Mime      string              `json:"mime"`
	TotalSize int64               `json:"totalSize"`
}

type CreateUploadResponse struct {
	UploadID  uuid.UUID `json:"uploadId"`
	PartSize  int64     `json:"partSize"`
	PartCount int       `json:"partCount"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PartURLRequest struct {
	PartNumber int `json:"partNumber"`
}

type PartURLResponse struct {
	URL        string    `json:"url"`
	PartNumber int       `json:"partNumber"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type CompleteUploadRequest struct {
	Parts  []storage.Part `json:"parts"`
	SHA256 *string        `json:"sha256,omitempty"`
}

type CompleteUploadResponse struct {
	AssetID   uuid.UUID `json:"assetId"`
	VersionID uuid.UUID `json:"versionId"`
}

func (r *assetpipeRoutes) CreateUpload(c *RequestContext) ResponseData {
	var req CreateUploadRequest
	if err := c.ReadJson(&req); err != nil {
		return c.ErrorFor(err)
	}

	created, err := r.Uploads.Create(c, uploads.CreateInput{
		Target:    req.Target,
		AssetID:   req.AssetID,
		FileName:  req.FileName,
		Mime:      req.Mime,
		TotalSize: req.TotalSize,
		CreatedBy: c.UserID,
	})
	if err != nil {
		return c.ErrorFor(err)
	}

	c.Logger.Info().
		Stringer("uploadId", created.UploadID).
		Int("partCount", created.PartCount).
		Msg("created upload session")

	res := ResponseData{StatusCode: http.StatusCreated}
	res.WriteJson(CreateUploadResponse{
		UploadID:  created.UploadID,
		PartSize:  created.PartSize,
		PartCount: created.PartCount,
		Bucket:    created.Bucket,
		Key:       created.Key,
		ExpiresAt: created.ExpiresAt,
	})
	return res
}

func (r *assetpipeRoutes) RequestPartURL(c *RequestContext) ResponseData {
	id, err := uuidParam(c, "id")
	if err != nil {
		return c.ErrorFor(err)
	}

	var req PartURLRequest
	if err := c.ReadJson(&req); err != nil {
		return c.ErrorFor(err)
	}

	part, err := r.Uploads.RequestPartURL(c, id, req.PartNumber)
	if err != nil {
		return c.ErrorFor(err)
	}

	var res ResponseData
	res.WriteJson(PartURLResponse{
		URL:        part.URL,
		PartNumber: part.PartNumber,
		ExpiresAt:  part.ExpiresAt,
	})
	return res
}

func (r *assetpipeRoutes) CompleteUpload(c *RequestContext) ResponseData {
	id, err := uuidParam(c, "id")
	if err != nil {
		return c.ErrorFor(err)
	}

	var req CompleteUploadRequest
	if err := c.ReadJson(&req); err != nil {
		return c.ErrorFor(err)
	}

	completed, err := r.Uploads.Complete(c, id, uploads.CompleteInput{
		Parts:  req.Parts,
		SHA256: req.SHA256,
	})
	if err != nil {
		return c.ErrorFor(err)
	}

	var res ResponseData
	res.WriteJson(CompleteUploadResponse{
		AssetID:   completed.AssetID,
		VersionID: completed.VersionID,
	})
	return res
}

func (r *assetpipeRoutes) AbortUpload(c *RequestContext) ResponseData {
	id, err := uuidParam(c, "id")
	if err != nil {
		return c.ErrorFor(err)
	}

	if err := r.Uploads.Abort(c, id); err != nil {
		return c.ErrorFor(err)
	}
	return ResponseData{StatusCode: http.StatusNoContent}
}

func uuidParam(c *RequestContext, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.PathParams[name])
	if err != nil {
		return uuid.Nil, oops.Validation("%s is not a valid id", name)
	}
	return id, nil
}

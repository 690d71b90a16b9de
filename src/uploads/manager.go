package uploads

import (
	"context"
	"time"
	"unicode/utf8"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/queue"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"github.com/google/uuid"
)

type Options struct {
	PartSize   int64
	MaxParts   int
	SessionTTL time.Duration
	PresignTTL time.Duration
	WorkQueue  string
	// Cancel the storage-side multipart upload of expired sessions before
	// deleting them.
	AbortRemoteOnExpiry bool
}

func OptionsFromConfig(cfg config.AssetpipeConfig) Options {
	return Options{
		PartSize:            cfg.Uploads.PartSize,
		MaxParts:            cfg.Uploads.MaxParts,
		SessionTTL:          cfg.Uploads.SessionTTL,
		PresignTTL:          cfg.Storage.PresignTTL,
		WorkQueue:           cfg.Queue.WorkQueue,
		AbortRemoteOnExpiry: cfg.Reaper.AbortRemote,
	}
}

/*
Manager runs upload sessions: a client creates a session, asks for a presigned
URL per part, uploads the parts straight to object storage, and then completes
or aborts the session.

Sessions move initiated -> uploading -> completed, or to aborted from either
of the first two. Completion is a fixed sequence of steps whose progress is
persisted on the session, so a retried completion resumes where the last
attempt failed.
*/
type Manager struct {
	Store   assetdata.SessionStore
	Gateway storage.Gateway
	Queue   queue.Queue
	Metrics *Metrics
	Options Options

	now func() time.Time
}

func NewManager(store assetdata.SessionStore, gateway storage.Gateway, q queue.Queue, metrics *Metrics, opts Options) *Manager {
	return &Manager{
		Store:   store,
		Gateway: gateway,
		Queue:   q,
		Metrics: metrics,
		Options: opts,
		now:     time.Now,
	}
}

type CreateInput struct {
	Target    models.UploadTarget
	AssetID   *uuid.UUID
	FileName  string
	Mime      string
	TotalSize int64
	CreatedBy string
}

type CreateResult struct {
	UploadID  uuid.UUID
	PartSize  int64
	PartCount int
	Bucket    string
	Key       string
	ExpiresAt time.Time
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (res CreateResult, err error) {
	defer m.count("create", &err)

	if err := m.validateCreate(ctx, &in); err != nil {
		return CreateResult{}, err
	}

	id := uuid.New()
	tempKey := storage.TempKey(id.String(), in.FileName)
	storageUploadID, err := m.Gateway.CreateMultipartUpload(ctx, tempKey, in.Mime)
	if err != nil {
		return CreateResult{}, oops.New(err, "failed to start multipart upload")
	}

	now := m.now()
	sess := &models.UploadSession{
		ID:              id,
		Target:          in.Target,
		AssetID:         in.AssetID,
		FileName:        in.FileName,
		Mime:            in.Mime,
		TotalSize:       in.TotalSize,
		PartSize:        m.Options.PartSize,
		StorageUploadID: storageUploadID,
		Bucket:          m.Gateway.Bucket(),
		TempKey:         tempKey,
		State:           models.UploadStateInitiated,
		Progress:        models.UploadProgressNone,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.Options.SessionTTL),
	}
	if err := m.Store.CreateSession(ctx, sess); err != nil {
		if abortErr := m.Gateway.AbortMultipartUpload(ctx, tempKey, storageUploadID); abortErr != nil {
			logging.ExtractLogger(ctx).Warn().Err(abortErr).Msg("failed to abort multipart upload of unsaved session")
		}
		return CreateResult{}, oops.New(err, "failed to save upload session")
	}

	logging.ExtractLogger(ctx).Info().
		Str("uploadId", id.String()).
		Str("target", string(in.Target)).
		Int64("totalSize", in.TotalSize).
		Msg("upload session created")

	return CreateResult{
		UploadID:  id,
		PartSize:  sess.PartSize,
		PartCount: sess.PartCount(),
		Bucket:    sess.Bucket,
		Key:       tempKey,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (m *Manager) validateCreate(ctx context.Context, in *CreateInput) error {
	if !in.Target.Valid() {
		return oops.Validation("target must be new_asset or new_version, got %q", in.Target)
	}
	if n := utf8.RuneCountInString(in.FileName); n < 1 || n > 500 {
		return oops.Validation("fileName must be between 1 and 500 characters")
	}
	if n := len(in.Mime); n < 1 || n > 255 {
		return oops.Validation("mime must be between 1 and 255 characters")
	}
	if err := CheckFileType(in.FileName, in.Mime); err != nil {
		return err
	}
	if in.TotalSize <= 0 {
		return oops.Validation("totalSize must be positive")
	}
	if parts := models.PartCount(in.TotalSize, m.Options.PartSize); parts > m.Options.MaxParts {
		return oops.Validation("a file of %d bytes needs %d parts, more than the maximum of %d", in.TotalSize, parts, m.Options.MaxParts)
	}
	if in.CreatedBy == "" {
		return oops.Validation("caller identity is required")
	}

	switch in.Target {
	case models.UploadTargetNewVersion:
		if in.AssetID == nil {
			return oops.Validation("assetId is required for new_version uploads")
		}
		exists, err := m.Store.AssetExists(ctx, *in.AssetID)
		if err != nil {
			return oops.New(err, "failed to look up asset")
		}
		if !exists {
			return oops.NotFound("asset %s not found", *in.AssetID)
		}
	case models.UploadTargetNewAsset:
		in.AssetID = nil
	}
	return nil
}

type PartURL struct {
	URL        string
	PartNumber int
	ExpiresAt  time.Time
}

func (m *Manager) RequestPartURL(ctx context.Context, id uuid.UUID, partNumber int) (res PartURL, err error) {
	defer m.count("part_url", &err)

	if partNumber < 1 || partNumber > storage.MaxParts {
		return PartURL{}, oops.Validation("partNumber must be between 1 and %d", storage.MaxParts)
	}

	sess, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return PartURL{}, err
	}
	if sess.State.IsTerminal() {
		return PartURL{}, oops.Conflict("upload session %s is %s", id, sess.State)
	}
	now := m.now()
	if sess.IsExpired(now) {
		return PartURL{}, oops.Conflict("upload session %s expired at %s", id, sess.ExpiresAt.Format(time.RFC3339))
	}
	if partNumber > sess.PartCount() {
		return PartURL{}, oops.Validation("partNumber %d is past the last part (%d)", partNumber, sess.PartCount())
	}

	// The state may have changed since the read above; this is the check that
	// counts.
	sess, err = m.Store.MarkUploading(ctx, id)
	if err != nil {
		return PartURL{}, err
	}

	url, err := m.Gateway.PresignPartURL(ctx, sess.TempKey, sess.StorageUploadID, int32(partNumber), m.Options.PresignTTL)
	if err != nil {
		return PartURL{}, oops.New(err, "failed to presign part %d", partNumber)
	}
	return PartURL{
		URL:        url,
		PartNumber: partNumber,
		ExpiresAt:  now.Add(m.Options.PresignTTL),
	}, nil
}

type CompleteInput struct {
	Parts  []storage.Part
	SHA256 *string
}

type CompleteResult struct {
	AssetID   uuid.UUID
	VersionID uuid.UUID
}

func (m *Manager) Complete(ctx context.Context, id uuid.UUID, in CompleteInput) (res CompleteResult, err error) {
	defer m.count("complete", &err)

	err = m.Store.WithSessionLock(ctx, id, func(ctx context.Context) error {
		sess, err := m.Store.GetSession(ctx, id)
		if err != nil {
			return err
		}

		switch sess.State {
		case models.UploadStateCompleted:
			if sess.ResultAssetID == nil || sess.ResultVersionID == nil {
				return oops.New(nil, "completed upload session %s has no result", id)
			}
			res = CompleteResult{AssetID: *sess.ResultAssetID, VersionID: *sess.ResultVersionID}
			return nil
		case models.UploadStateUploading:
		default:
			return oops.Conflict("upload session %s is %s", id, sess.State)
		}

		if err := validateParts(in.Parts); err != nil {
			return err
		}

		res, err = m.runCompletion(ctx, sess, in)
		return err
	})
	return res, err
}

func validateParts(parts []storage.Part) error {
	if len(parts) == 0 {
		return oops.Validation("parts must not be empty")
	}
	for i, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > storage.MaxParts {
			return oops.Validation("parts[%d]: partNumber must be between 1 and %d", i, storage.MaxParts)
		}
		if p.ETag == "" {
			return oops.Validation("parts[%d]: etag must not be empty", i)
		}
	}
	return nil
}

// Runs the completion steps that the session has not yet recorded. Must be
// called with the session lock held.
func (m *Manager) runCompletion(ctx context.Context, sess *models.UploadSession, in CompleteInput) (CompleteResult, error) {
	logger := logging.ExtractLogger(ctx).With().Str("uploadId", sess.ID.String()).Logger()

	if !sess.Progress.Reached(models.UploadProgressCommitted) {
		_, err := m.Gateway.CompleteMultipartUpload(ctx, sess.TempKey, sess.StorageUploadID, in.Parts)
		if err != nil {
			return CompleteResult{}, oops.New(err, "failed to commit multipart upload")
		}
		if err := m.Store.SetProgress(ctx, sess.ID, models.UploadProgressCommitted, nil); err != nil {
			return CompleteResult{}, oops.New(err, "failed to record commit")
		}
		logger.Debug().Msg("multipart upload committed")
	}

	finalKey := storage.FinalKey(sess.ID.String(), sess.FileName)
	if !sess.Progress.Reached(models.UploadProgressCopied) {
		if err := m.Gateway.CopyObject(ctx, sess.TempKey, finalKey); err != nil {
			return CompleteResult{}, oops.New(err, "failed to copy upload to its final key")
		}
		if err := m.Store.SetProgress(ctx, sess.ID, models.UploadProgressCopied, &finalKey); err != nil {
			return CompleteResult{}, oops.New(err, "failed to record copy")
		}
		logger.Debug().Str("key", finalKey).Msg("upload copied")
	}

	var result CompleteResult
	if sess.Progress.Reached(models.UploadProgressRecorded) {
		result = CompleteResult{AssetID: *sess.ResultAssetID, VersionID: *sess.ResultVersionID}
	} else {
		recorded, err := m.Store.RecordVersion(ctx, assetdata.RecordVersionInput{
			SessionID: sess.ID,
			Target:    sess.Target,
			AssetID:   sess.AssetID,
			Title:     sess.FileName,
			Mime:      sess.Mime,
			Bucket:    sess.Bucket,
			Key:       finalKey,
			Size:      sess.TotalSize,
			SHA256:    in.SHA256,
			CreatedBy: sess.CreatedBy,
			Now:       m.now(),
		})
		if err != nil {
			return CompleteResult{}, oops.New(err, "failed to record asset version")
		}
		result = CompleteResult{AssetID: recorded.AssetID, VersionID: recorded.VersionID}
		logger.Debug().Int("version", recorded.Version).Msg("asset version recorded")
	}

	if !sess.Progress.Reached(models.UploadProgressEnqueued) {
		err := queue.EnqueueJSON(ctx, m.Queue, m.Options.WorkQueue, queue.RenderJob{VersionID: result.VersionID})
		if err != nil {
			return CompleteResult{}, oops.New(err, "failed to enqueue render job")
		}
		if err := m.Store.SetProgress(ctx, sess.ID, models.UploadProgressEnqueued, nil); err != nil {
			return CompleteResult{}, oops.New(err, "failed to record enqueue")
		}
	}

	if err := m.Store.MarkCompleted(ctx, sess.ID); err != nil {
		return CompleteResult{}, err
	}
	if m.Metrics != nil {
		m.Metrics.BytesUploaded.Add(float64(sess.TotalSize))
	}

	logger.Info().
		Str("assetId", result.AssetID.String()).
		Str("versionId", result.VersionID.String()).
		Msg("upload completed")
	return result, nil
}

func (m *Manager) Abort(ctx context.Context, id uuid.UUID) (err error) {
	defer m.count("abort", &err)

	return m.Store.WithSessionLock(ctx, id, func(ctx context.Context) error {
		sess, err := m.Store.GetSession(ctx, id)
		if err != nil {
			return err
		}

		switch sess.State {
		case models.UploadStateAborted:
			return nil
		case models.UploadStateCompleted:
			return oops.Conflict("upload session %s is %s", id, sess.State)
		}

		if err := m.Gateway.AbortMultipartUpload(ctx, sess.TempKey, sess.StorageUploadID); err != nil {
			logging.ExtractLogger(ctx).Warn().Err(err).
				Str("uploadId", id.String()).
				Msg("failed to abort multipart upload, marking session aborted anyway")
		}
		return m.Store.MarkAborted(ctx, id)
	})
}

func (m *Manager) count(operation string, err *error) {
	if m.Metrics == nil {
		return
	}
	result := "ok"
	if *err != nil {
		result = oops.KindOf(*err).String()
	}
	m.Metrics.Operations.WithLabelValues(operation, result).Inc()
}

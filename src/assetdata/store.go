package assetdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/models"
	"github.com/google/uuid"
)

/*
SessionStore persists upload sessions and the assets and versions they produce.
Lookups of unknown ids return an oops error of kind NotFound.
*/
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.UploadSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)

	// Atomically moves an initiated or uploading session to uploading and
	// returns it. A session in any other state yields a Conflict error naming
	// that state.
	MarkUploading(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)

	// Runs fn while holding an exclusive lock on the session id. The lock is
	// held across processes by the Postgres implementation.
	WithSessionLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error

	SetProgress(ctx context.Context, id uuid.UUID, progress models.UploadProgress, finalKey *string) error

	// In one transaction: creates the asset (new_asset) or locks it
	// (new_version), allocates the next version number, inserts the version,
	// and stores the result on the session with progress = recorded.
	RecordVersion(ctx context.Context, in RecordVersionInput) (RecordedVersion, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkAborted(ctx context.Context, id uuid.UUID) error

	AssetExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListVersions(ctx context.Context, assetID uuid.UUID) ([]*models.AssetVersion, error)

	ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.UploadSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// RenditionStore is the part of persistence the rendition pipeline needs.
type RenditionStore interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*models.AssetVersion, error)
	CreateRendition(ctx context.Context, r *models.Rendition) error
	ListRenditions(ctx context.Context, versionID uuid.UUID, readyOnly bool) ([]*models.Rendition, error)
}

type RecordVersionInput struct {
	SessionID uuid.UUID
	Target    models.UploadTarget
	AssetID   *uuid.UUID // required for new_version
	Title     string
	Mime      string
	Bucket    string
	Key       string
	Size      int64
	SHA256    *string
	CreatedBy string
	Now       time.Time
}

type RecordedVersion struct {
	AssetID   uuid.UUID
	VersionID uuid.UUID
	Version   int
}

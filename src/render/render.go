package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"github.com/google/uuid"
)

// A Renderer derives renditions for one asset version from a local source file.
type Renderer interface {
	Render(ctx context.Context, srcPath string, out *Emitter) error
}

/*
Isolation decides what happens when one unit of work inside a renderer fails
(one page raster, one tile). FailFast aborts the whole job with the error;
SkipAndLog logs the failure and carries on with the remaining units.
*/
type Isolation int

const (
	FailFast Isolation = iota
	SkipAndLog
)

func (iso Isolation) String() string {
	if iso == SkipAndLog {
		return "skip_and_log"
	}
	return "fail_fast"
}

// Contain applies the isolation strategy to err. It returns the error that
// should abort the job, or nil if work should continue.
func (iso Isolation) Contain(ctx context.Context, err error, msg string, onSkip func()) error {
	if err == nil {
		return nil
	}
	if iso == FailFast {
		return err
	}
	logging.ExtractLogger(ctx).Warn().Err(err).Msg(msg)
	if onSkip != nil {
		onSkip()
	}
	return nil
}

type RenditionRecorder interface {
	CreateRendition(ctx context.Context, r *models.Rendition) error
}

// Hooks receives counts from renderers. Implementations must be safe for
// concurrent use; tiles are emitted from several goroutines.
type Hooks interface {
	RenditionCreated(kind models.RenditionKind)
	TileFailed()
}

// Artifact is one encoded raster ready to be stored.
type Artifact struct {
	Kind   models.RenditionKind
	Name   string // key suffix under the version's rendition prefix
	Mime   string
	Data   []byte
	Width  int
	Height int
	Page   *int
	Zoom   *int
	TileX  *int
	TileY  *int
}

// Emitter uploads artifacts for a single asset version and records each one as
// a ready rendition.
type Emitter struct {
	VersionID uuid.UUID
	Gateway   storage.Gateway
	Store     RenditionRecorder
	Hooks     Hooks

	Now func() time.Time
}

func RenditionKey(versionID uuid.UUID, name string) string {
	return fmt.Sprintf("renditions/%s/%s", versionID, name)
}

func (e *Emitter) Emit(ctx context.Context, a Artifact) (*models.Rendition, error) {
	key := RenditionKey(e.VersionID, a.Name)
	mime := a.Mime
	if mime == "" {
		mime = "image/png"
	}

	err := e.Gateway.PutObject(ctx, key, mime, bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		return nil, err
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	r := &models.Rendition{
		ID:             uuid.New(),
		AssetVersionID: e.VersionID,
		Kind:           a.Kind,
		Bucket:         e.Gateway.Bucket(),
		Key:            key,
		Width:          a.Width,
		Height:         a.Height,
		Page:           a.Page,
		Zoom:           a.Zoom,
		TileX:          a.TileX,
		TileY:          a.TileY,
		Ready:          true,
		CreatedAt:      now(),
	}
	if err := e.Store.CreateRendition(ctx, r); err != nil {
		return nil, oops.New(err, "failed to record %s rendition %s", a.Kind, key)
	}

	if e.Hooks != nil {
		e.Hooks.RenditionCreated(a.Kind)
	}
	return r, nil
}

func (e *Emitter) tileFailed() {
	if e.Hooks != nil {
		e.Hooks.TileFailed()
	}
}

func intPtr(v int) *int {
	return &v
}

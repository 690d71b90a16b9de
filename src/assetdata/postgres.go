package assetdata

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/assetpipe/src/db"
	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

var _ SessionStore = &PgStore{}
var _ RenditionStore = &PgStore{}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateSession(ctx context.Context, sess *models.UploadSession) error {
	_, err := s.pool.Exec(ctx,
		`
		---- Create upload session
		INSERT INTO upload_session (
			id, target, asset_id, file_name, mime, total_size, part_size,
			storage_upload_id, bucket, temp_key, received_bytes, state, progress,
			created_by, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
		sess.ID, sess.Target, sess.AssetID, sess.FileName, sess.Mime, sess.TotalSize, sess.PartSize,
		sess.StorageUploadID, sess.Bucket, sess.TempKey, sess.ReceivedBytes, sess.State, sess.Progress,
		sess.CreatedBy, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return oops.New(err, "failed to insert upload session")
	}
	return nil
}

func (s *PgStore) GetSession(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	sess, err := db.QueryOne[models.UploadSession](ctx, s.pool,
		`
		---- Get upload session
		SELECT $columns
		FROM upload_session
		WHERE id = $1
		`,
		id,
	)
	if errors.Is(err, db.NotFound) {
		return nil, oops.NotFound("upload session %s not found", id)
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch upload session")
	}
	return sess, nil
}

func (s *PgStore) MarkUploading(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	sess, err := db.QueryOne[models.UploadSession](ctx, s.pool,
		`
		---- Mark session uploading
		UPDATE upload_session
		SET state = $2
		WHERE id = $1 AND state = ANY($3)
		RETURNING $columns
		`,
		id,
		models.UploadStateUploading,
		[]string{string(models.UploadStateInitiated), string(models.UploadStateUploading)},
	)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, db.NotFound) {
		return nil, oops.New(err, "failed to update upload session state")
	}

	// Nothing matched; either the session is missing or it is terminal.
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, oops.Conflict("upload session %s is %s", id, current.State)
}

func (s *PgStore) WithSessionLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return oops.New(err, "failed to acquire connection for session lock")
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, id.String())
	if err != nil {
		return oops.New(err, "failed to lock upload session %s", id)
	}
	defer func() {
		_, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, id.String())
		if err != nil {
			// Closing the connection is the only other way to let go of the lock.
			logging.ExtractLogger(ctx).Error().Err(err).Str("sessionId", id.String()).Msg("failed to release session lock; closing connection")
			conn.Conn().Close(context.Background())
		}
	}()

	return fn(ctx)
}

func (s *PgStore) SetProgress(ctx context.Context, id uuid.UUID, progress models.UploadProgress, finalKey *string) error {
	tag, err := s.pool.Exec(ctx,
		`
		---- Set session progress
		UPDATE upload_session
		SET
			progress = $2,
			final_key = COALESCE($3, final_key)
		WHERE id = $1
		`,
		id,
		progress,
		finalKey,
	)
	if err != nil {
		return oops.New(err, "failed to record upload progress")
	}
	if tag.RowsAffected() == 0 {
		return oops.NotFound("upload session %s not found", id)
	}
	return nil
}

func (s *PgStore) RecordVersion(ctx context.Context, in RecordVersionInput) (RecordedVersion, error) {
	var result RecordedVersion
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var assetID uuid.UUID
		switch in.Target {
		case models.UploadTargetNewAsset:
			assetID = uuid.New()
			_, err := tx.Exec(ctx,
				`
				---- Create asset
				INSERT INTO asset (id, title, type, current_version_id, created_by, created_at, updated_at)
				VALUES ($1, $2, $3, NULL, $4, $5, $5)
				`,
				assetID, in.Title, models.AssetTypeForMime(in.Mime), in.CreatedBy, in.Now,
			)
			if err != nil {
				return oops.New(err, "failed to create asset")
			}
		case models.UploadTargetNewVersion:
			if in.AssetID == nil {
				return oops.Validation("assetId is required for new_version uploads")
			}
			// Serializes version allocation per asset.
			locked, err := db.QueryOneScalar[uuid.UUID](ctx, tx,
				`
				---- Lock asset
				SELECT id FROM asset WHERE id = $1 FOR UPDATE
				`,
				*in.AssetID,
			)
			if errors.Is(err, db.NotFound) {
				return oops.NotFound("asset %s not found", *in.AssetID)
			} else if err != nil {
				return oops.New(err, "failed to lock asset")
			}
			assetID = locked
		default:
			return oops.Validation("unknown upload target %q", in.Target)
		}

		version, err := db.QueryOneScalar[int](ctx, tx,
			`
			---- Next version number
			SELECT COALESCE(MAX(version), 0) + 1
			FROM asset_version
			WHERE asset_id = $1
			`,
			assetID,
		)
		if err != nil {
			return oops.New(err, "failed to allocate version number")
		}

		versionID := uuid.New()
		_, err = tx.Exec(ctx,
			`
			---- Create asset version
			INSERT INTO asset_version (id, asset_id, version, bucket, key, size, sha256, mime, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
			versionID, assetID, version, in.Bucket, in.Key, in.Size, in.SHA256, in.Mime, in.CreatedBy, in.Now,
		)
		if err != nil {
			return oops.New(err, "failed to create asset version")
		}

		// Only a brand new asset gets its current version set here.
		if in.Target == models.UploadTargetNewAsset {
			_, err = tx.Exec(ctx,
				`UPDATE asset SET current_version_id = $2, updated_at = $3 WHERE id = $1`,
				assetID, versionID, in.Now,
			)
		} else {
			_, err = tx.Exec(ctx, `UPDATE asset SET updated_at = $2 WHERE id = $1`, assetID, in.Now)
		}
		if err != nil {
			return oops.New(err, "failed to update asset")
		}

		tag, err := tx.Exec(ctx,
			`
			---- Store completion result
			UPDATE upload_session
			SET
				result_asset_id = $2,
				result_version_id = $3,
				progress = $4
			WHERE id = $1
			`,
			in.SessionID, assetID, versionID, models.UploadProgressRecorded,
		)
		if err != nil {
			return oops.New(err, "failed to store completion result")
		}
		if tag.RowsAffected() == 0 {
			return oops.NotFound("upload session %s not found", in.SessionID)
		}

		result = RecordedVersion{AssetID: assetID, VersionID: versionID, Version: version}
		return nil
	})
	if err != nil {
		return RecordedVersion{}, err
	}
	return result, nil
}

func (s *PgStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.UploadStateCompleted, "received_bytes = total_size")
}

func (s *PgStore) MarkAborted(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.UploadStateAborted, "")
}

func (s *PgStore) transition(ctx context.Context, id uuid.UUID, to models.UploadState, extraSet string) error {
	var from []string
	for _, state := range []models.UploadState{models.UploadStateInitiated, models.UploadStateUploading} {
		if state.CanTransitionTo(to) {
			from = append(from, string(state))
		}
	}

	var qb db.QueryBuilder
	qb.Add(`UPDATE upload_session SET state = $?`, to)
	qb.AddIf(extraSet != "", ", "+extraSet)
	qb.Add(`WHERE id = $? AND state = ANY($?)`, id, from)

	tag, err := s.pool.Exec(ctx, qb.String(), qb.Args()...)
	if err != nil {
		return oops.New(err, "failed to mark upload session %s", to)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return oops.Conflict("upload session %s is %s", id, current.State)
	}
	return nil
}

func (s *PgStore) AssetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	exists, err := db.QueryOneScalar[bool](ctx, s.pool,
		`SELECT EXISTS (SELECT 1 FROM asset WHERE id = $1)`,
		id,
	)
	if err != nil {
		return false, oops.New(err, "failed to check for asset")
	}
	return exists, nil
}

func (s *PgStore) ListVersions(ctx context.Context, assetID uuid.UUID) ([]*models.AssetVersion, error) {
	versions, err := db.Query[models.AssetVersion](ctx, s.pool,
		`
		---- List asset versions
		SELECT $columns
		FROM asset_version
		WHERE asset_id = $1
		ORDER BY version
		`,
		assetID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list asset versions")
	}
	return versions, nil
}

func (s *PgStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.UploadSession, error) {
	sessions, err := db.Query[models.UploadSession](ctx, s.pool,
		`
		---- List expired sessions
		SELECT $columns
		FROM upload_session
		WHERE expires_at <= $1
		ORDER BY expires_at
		`,
		now,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list expired upload sessions")
	}
	return sessions, nil
}

func (s *PgStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM upload_session WHERE id = $1`, id)
	if err != nil {
		return oops.New(err, "failed to delete upload session")
	}
	return nil
}

func (s *PgStore) GetVersion(ctx context.Context, id uuid.UUID) (*models.AssetVersion, error) {
	version, err := db.QueryOne[models.AssetVersion](ctx, s.pool,
		`
		---- Get asset version
		SELECT $columns
		FROM asset_version
		WHERE id = $1
		`,
		id,
	)
	if errors.Is(err, db.NotFound) {
		return nil, oops.NotFound("asset version %s not found", id)
	} else if err != nil {
		return nil, oops.New(err, "failed to fetch asset version")
	}
	return version, nil
}

func (s *PgStore) CreateRendition(ctx context.Context, r *models.Rendition) error {
	_, err := s.pool.Exec(ctx,
		`
		---- Create rendition
		INSERT INTO rendition (id, asset_version_id, kind, bucket, key, width, height, page, zoom, tile_x, tile_y, ready, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
		r.ID, r.AssetVersionID, r.Kind, r.Bucket, r.Key, r.Width, r.Height, r.Page, r.Zoom, r.TileX, r.TileY, r.Ready, r.CreatedAt,
	)
	if err != nil {
		return oops.New(err, "failed to insert rendition")
	}
	return nil
}

func (s *PgStore) ListRenditions(ctx context.Context, versionID uuid.UUID, readyOnly bool) ([]*models.Rendition, error) {
	var qb db.QueryBuilder
	qb.Add(`SELECT $columns FROM rendition WHERE asset_version_id = $?`, versionID)
	qb.AddIf(readyOnly, `AND ready`)
	qb.Add(`ORDER BY created_at, kind, page, zoom, tile_y, tile_x`)

	renditions, err := db.Query[models.Rendition](ctx, s.pool, qb.String(), qb.Args()...)
	if err != nil {
		return nil, oops.New(err, "failed to list renditions")
	}
	return renditions, nil
}

package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddUploadSessions{})
}

type AddUploadSessions struct{}

func (m AddUploadSessions) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 14, 11, 30, 40, 0, time.UTC))
}

func (m AddUploadSessions) Name() string {
	return "AddUploadSessions"
}

func (m AddUploadSessions) Description() string {
	return "Adds resumable multipart upload sessions"
}

func (m AddUploadSessions) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE upload_session (
			id UUID PRIMARY KEY,
			target TEXT NOT NULL CHECK (target IN ('new_asset', 'new_version')),
			asset_id UUID REFERENCES asset (id) ON DELETE CASCADE,
			file_name VARCHAR(500) NOT NULL,
			mime VARCHAR(255) NOT NULL,
			total_size BIGINT NOT NULL CHECK (total_size > 0),
			part_size BIGINT NOT NULL CHECK (part_size > 0),
			storage_upload_id TEXT NOT NULL,
			bucket TEXT NOT NULL,
			temp_key TEXT NOT NULL,
			final_key TEXT,
			received_bytes BIGINT NOT NULL DEFAULT 0,
			state TEXT NOT NULL CHECK (state IN ('initiated', 'uploading', 'completed', 'aborted')),
			progress TEXT NOT NULL DEFAULT 'none' CHECK (progress IN ('none', 'committed', 'copied', 'recorded', 'enqueued')),
			result_asset_id UUID,
			result_version_id UUID,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			CHECK (target = 'new_asset' OR asset_id IS NOT NULL)
		);

		CREATE INDEX upload_session_expires_at ON upload_session (expires_at);
		`,
	)
	return err
}

func (m AddUploadSessions) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DROP TABLE upload_session;`)
	return err
}

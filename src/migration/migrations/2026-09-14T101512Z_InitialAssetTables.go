package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(InitialAssetTables{})
}

type InitialAssetTables struct{}

func (m InitialAssetTables) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 14, 10, 15, 12, 0, time.UTC))
}

func (m InitialAssetTables) Name() string {
	return "InitialAssetTables"
}

func (m InitialAssetTables) Description() string {
	return "Creates the asset and asset_version tables"
}

func (m InitialAssetTables) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE asset (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('image', 'video', 'audio', 'pdf', 'doc', 'xls', 'ppt', 'other')),
			current_version_id UUID,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE TABLE asset_version (
			id UUID PRIMARY KEY,
			asset_id UUID NOT NULL REFERENCES asset (id) ON DELETE CASCADE,
			version INT NOT NULL CHECK (version > 0),
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			size BIGINT NOT NULL,
			sha256 TEXT,
			mime TEXT NOT NULL,
			tech_meta JSONB,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			CONSTRAINT asset_version_asset_id_version_key UNIQUE (asset_id, version)
		);

		ALTER TABLE asset
			ADD CONSTRAINT asset_current_version_id_fkey
			FOREIGN KEY (current_version_id) REFERENCES asset_version (id) ON DELETE SET NULL;
		`,
	)
	return err
}

func (m InitialAssetTables) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		ALTER TABLE asset DROP CONSTRAINT asset_current_version_id_fkey;
		DROP TABLE asset_version;
		DROP TABLE asset;
		`,
	)
	return err
}

package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddRenditions{})
}

type AddRenditions struct{}

func (m AddRenditions) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 15, 8, 42, 5, 0, time.UTC))
}

func (m AddRenditions) Name() string {
	return "AddRenditions"
}

func (m AddRenditions) Description() string {
	return "Adds derived renditions of asset versions"
}

func (m AddRenditions) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE rendition (
			id UUID PRIMARY KEY,
			asset_version_id UUID NOT NULL REFERENCES asset_version (id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK (kind IN ('thumb', 'preview', 'page', 'tile', 'webp')),
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			page INT,
			zoom INT,
			tile_x INT,
			tile_y INT,
			ready BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX rendition_asset_version_id ON rendition (asset_version_id);
		`,
	)
	return err
}

func (m AddRenditions) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DROP TABLE rendition;`)
	return err
}

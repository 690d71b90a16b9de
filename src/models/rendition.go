package models

import (
	"time"

	"github.com/google/uuid"
)

type RenditionKind string

const (
	RenditionKindThumb   RenditionKind = "thumb"
	RenditionKindPreview RenditionKind = "preview"
	RenditionKindPage    RenditionKind = "page"
	RenditionKindTile    RenditionKind = "tile"
	RenditionKindWebp    RenditionKind = "webp"
)

// A derived artifact of an asset version. Renditions are append-only and only
// visible to readers once Ready is set.
type Rendition struct {
	ID             uuid.UUID     `db:"id"`
	AssetVersionID uuid.UUID     `db:"asset_version_id"`
	Kind           RenditionKind `db:"kind"`
	Bucket         string        `db:"bucket"`
	Key            string        `db:"key"`
	Width          int           `db:"width"`
	Height         int           `db:"height"`
	Page           *int          `db:"page"`
	Zoom           *int          `db:"zoom"`
	TileX          *int          `db:"tile_x"`
	TileY          *int          `db:"tile_y"`
	Ready          bool          `db:"ready"`
	CreatedAt      time.Time     `db:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type AssetType string

const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
	AssetTypeAudio AssetType = "audio"
	AssetTypePDF   AssetType = "pdf"
	AssetTypeDoc   AssetType = "doc"
	AssetTypeXls   AssetType = "xls"
	AssetTypePpt   AssetType = "ppt"
	AssetTypeOther AssetType = "other"
)

type Asset struct {
	ID               uuid.UUID  `db:"id"`
	Title            string     `db:"title"`
	Type             AssetType  `db:"type"`
	CurrentVersionID *uuid.UUID `db:"current_version_id"`
	CreatedBy        string     `db:"created_by"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// An immutable stored revision of an asset. Version numbers start at 1 and are
// unique per asset.
type AssetVersion struct {
	ID        uuid.UUID      `db:"id"`
	AssetID   uuid.UUID      `db:"asset_id"`
	Version   int            `db:"version"`
	Bucket    string         `db:"bucket"`
	Key       string         `db:"key"`
	Size      int64          `db:"size"`
	SHA256    *string        `db:"sha256"`
	Mime      string         `db:"mime"`
	TechMeta  map[string]any `db:"tech_meta"`
	CreatedBy string         `db:"created_by"`
	CreatedAt time.Time      `db:"created_at"`
}

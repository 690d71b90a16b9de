package types

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// A schema change. Up and Down each run inside their own transaction.
type Migration interface {
	Version() MigrationVersion
	Name() string
	Description() string
	Up(ctx context.Context, tx pgx.Tx) error
	Down(ctx context.Context, tx pgx.Tx) error
}

// Migrations are identified by the UTC time they were created, which also
// orders them.
type MigrationVersion time.Time

// The layout used in migration file names, e.g. 2026-09-14T101512Z.
const FileNameLayout = "2006-01-02T150405Z"

// Accepts RFC 3339 timestamps as well as the compact form used in file names.
func ParseMigrationVersion(s string) (MigrationVersion, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		var fileErr error
		t, fileErr = time.Parse(FileNameLayout, s)
		if fileErr != nil {
			return MigrationVersion{}, err
		}
	}
	return MigrationVersion(t.UTC()), nil
}

func (v MigrationVersion) String() string {
	return time.Time(v).Format(time.RFC3339)
}

func (v MigrationVersion) Before(other MigrationVersion) bool {
	return time.Time(v).Before(time.Time(other))
}

func (v MigrationVersion) Equal(other MigrationVersion) bool {
	return time.Time(v).Equal(time.Time(other))
}

func (v MigrationVersion) IsZero() bool {
	return time.Time(v).IsZero()
}

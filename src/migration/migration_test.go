package migration

import (
	"testing"
	"time"

	"git.handmade.network/hmn/assetpipe/src/migration/migrations"
	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreOrdered(t *testing.T) {
	versions := getSortedMigrationVersions()
	require.Len(t, versions, len(migrations.All))
	require.NotEmpty(t, versions)

	names := map[string]bool{}
	for i, v := range versions {
		if i > 0 {
			assert.True(t, versions[i-1].Before(v))
		}
		m := migrations.All[v]
		assert.True(t, m.Version().Equal(v))
		assert.False(t, names[m.Name()], "duplicate migration name %s", m.Name())
		names[m.Name()] = true
	}
	assert.Equal(t, versions[len(versions)-1], LatestVersion())
}

func TestPlanMigration(t *testing.T) {
	versions := getSortedMigrationVersions()
	latest := LatestVersion()

	t.Run("fresh database", func(t *testing.T) {
		current, target, err := planMigration(versions, types.MigrationVersion{}, latest)
		require.Nil(t, err)
		assert.Equal(t, -1, current)
		assert.Equal(t, len(versions)-1, target)
	})
	t.Run("unknown target", func(t *testing.T) {
		bogus := types.MigrationVersion(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
		_, _, err := planMigration(versions, types.MigrationVersion{}, bogus)
		assert.True(t, oops.Is(err, oops.KindNotFound))
	})
	t.Run("unknown current", func(t *testing.T) {
		bogus := types.MigrationVersion(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
		_, _, err := planMigration(versions, bogus, latest)
		assert.True(t, oops.Is(err, oops.KindConflict))
	})
}

func TestRenderMigration(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 30, 5, 0, time.UTC)
	filename, source := renderMigration("AddRenditionIndex", "Indexes renditions by kind", now)

	assert.Equal(t, "2026-10-01T123005Z_AddRenditionIndex.go", filename)
	assert.Contains(t, source, "registerMigration(AddRenditionIndex{})")
	assert.Contains(t, source, "time.Date(2026, 10, 1, 12, 30, 5, 0, time.UTC)")
	assert.Contains(t, source, `"Indexes renditions by kind"`)
}

func TestParseMigrationVersion(t *testing.T) {
	want := types.MigrationVersion(time.Date(2026, 9, 14, 10, 15, 12, 0, time.UTC))

	v, err := types.ParseMigrationVersion("2026-09-14T10:15:12Z")
	require.Nil(t, err)
	assert.True(t, want.Equal(v))

	v, err = types.ParseMigrationVersion("2026-09-14T101512Z")
	require.Nil(t, err)
	assert.True(t, want.Equal(v))

	_, err = types.ParseMigrationVersion("yesterday")
	assert.NotNil(t, err)
}

package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/db"
	"git.handmade.network/hmn/assetpipe/src/migration/migrations"
	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/website"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()

			conn, err := db.NewConn(ctx, config.Config.Postgres)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			defer conn.Close(context.Background())

			if listMigrations {
				ListMigrations(ctx, conn)
				return
			}

			var targetVersion types.MigrationVersion
			if len(args) > 0 {
				targetVersion, err = types.ParseMigrationVersion(args[0])
				if err != nil {
					fmt.Printf("ERROR: bad version string: %v\n", err)
					os.Exit(1)
				}
			}
			if err := Migrate(ctx, conn, targetVersion); err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			name := args[0]
			description := strings.Join(args[1:], " ")

			path, err := MakeMigration(name, description, time.Now())
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Successfully created migration file:")
			fmt.Println(path)
		},
	}

	website.AssetpipeCommand.AddCommand(migrateCommand)
	website.AssetpipeCommand.AddCommand(makeMigrationCommand)
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func LatestVersion() types.MigrationVersion {
	allVersions := getSortedMigrationVersions()
	return allVersions[len(allVersions)-1]
}

func getCurrentVersion(ctx context.Context, conn *pgx.Conn) (types.MigrationVersion, error) {
	var currentVersion time.Time
	row := conn.QueryRow(ctx, "SELECT version FROM assetpipe_migration")
	err := row.Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	currentVersion = currentVersion.UTC()

	return types.MigrationVersion(currentVersion), nil
}

func ListMigrations(ctx context.Context, conn *pgx.Conn) {
	currentVersion, _ := getCurrentVersion(ctx, conn)
	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

// Migrates the database forward or backward to targetVersion. A zero
// targetVersion means the latest migration. Each migration runs in its own
// transaction together with the version bump.
func Migrate(ctx context.Context, conn *pgx.Conn, targetVersion types.MigrationVersion) error {
	// create migration table
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS assetpipe_migration (
			version		TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return oops.New(err, "failed to create migration table")
	}

	// ensure there is a row
	var numRows int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM assetpipe_migration").Scan(&numRows); err != nil {
		return oops.New(err, "failed to count migration rows")
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO assetpipe_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			return oops.New(err, "failed to insert initial migration row")
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		return oops.New(err, "failed to get current version")
	}
	if currentVersion.IsZero() {
		fmt.Println("This is the first time you have run database migrations.")
	} else {
		fmt.Printf("Current version: %s\n", currentVersion.String())
	}

	allVersions := getSortedMigrationVersions()
	if targetVersion.IsZero() {
		targetVersion = allVersions[len(allVersions)-1]
	}

	currentIndex, targetIndex, err := planMigration(allVersions, currentVersion, targetVersion)
	if err != nil {
		return err
	}

	if currentIndex < targetIndex {
		// roll forward
		for i := currentIndex + 1; i <= targetIndex; i++ {
			version := allVersions[i]
			migration := migrations.All[version]
			fmt.Printf("Applying migration %v (%v)\n", version, migration.Name())

			err := db.WithTx(ctx, conn, func(tx pgx.Tx) error {
				if err := migration.Up(ctx, tx); err != nil {
					return oops.New(err, "migration %v failed", version)
				}
				_, err := tx.Exec(ctx, "UPDATE assetpipe_migration SET version = $1", time.Time(version))
				return err
			})
			if err != nil {
				return err
			}
		}
	} else if currentIndex > targetIndex {
		// roll back
		for i := currentIndex; i > targetIndex; i-- {
			version := allVersions[i]
			previousVersion := types.MigrationVersion{}
			if i > 0 {
				previousVersion = allVersions[i-1]
			}

			migration := migrations.All[version]
			fmt.Printf("Rolling back migration %v\n", version)

			err := db.WithTx(ctx, conn, func(tx pgx.Tx) error {
				if err := migration.Down(ctx, tx); err != nil {
					return oops.New(err, "rollback of migration %v failed", version)
				}
				_, err := tx.Exec(ctx, "UPDATE assetpipe_migration SET version = $1", time.Time(previousVersion))
				return err
			})
			if err != nil {
				return err
			}
		}
	} else {
		fmt.Println("Already migrated; nothing to do.")
	}

	return nil
}

// Finds the positions of the current and target versions in the sorted list.
// A zero current version (fresh database) is index -1.
func planMigration(allVersions []types.MigrationVersion, current, target types.MigrationVersion) (int, int, error) {
	currentIndex := -1
	targetIndex := -1
	for i, version := range allVersions {
		if current.Equal(version) {
			currentIndex = i
		}
		if target.Equal(version) {
			targetIndex = i
		}
	}

	if targetIndex < 0 {
		return 0, 0, oops.NotFound("could not find migration with version %v", target)
	}
	if currentIndex < 0 && !current.IsZero() {
		return 0, 0, oops.Conflict("database is at unknown migration version %v", current)
	}
	return currentIndex, targetIndex, nil
}

const migrationTemplate = `package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(%NAME%{})
}

type %NAME% struct{}

func (m %NAME%) Version() types.MigrationVersion {
	return types.MigrationVersion(%DATE%)
}

func (m %NAME%) Name() string {
	return "%NAME%"
}

func (m %NAME%) Description() string {
	return %DESCRIPTION%
}

func (m %NAME%) Up(ctx context.Context, tx pgx.Tx) error {
	panic("Implement me")
}

func (m %NAME%) Down(ctx context.Context, tx pgx.Tx) error {
	panic("Implement me")
}
`

func renderMigration(name, description string, now time.Time) (filename string, source string) {
	now = now.UTC()

	source = migrationTemplate
	source = strings.ReplaceAll(source, "%NAME%", name)
	source = strings.ReplaceAll(source, "%DESCRIPTION%", fmt.Sprintf("%#v", description))
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	source = strings.ReplaceAll(source, "%DATE%", nowConstructor)

	filename = fmt.Sprintf("%v_%v.go", now.Format(types.FileNameLayout), name)
	return filename, source
}

func MakeMigration(name, description string, now time.Time) (string, error) {
	filename, source := renderMigration(name, description, now)
	path := filepath.Join("src", "migration", "migrations", filename)

	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return "", oops.New(err, "failed to write migration file")
	}
	return path, nil
}

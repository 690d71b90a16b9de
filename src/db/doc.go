/*
This package contains lowish-level APIs for making database queries to our Postgres database. It streamlines the process of mapping query results to Go types, while allowing you to write arbitrary SQL queries.

The primary functions are Query and QueryOne. Transactions are handled with WithTx.

Query syntax

This package allows a few small extensions to SQL syntax to streamline the interaction between Go and Postgres.

Arguments can be provided using placeholders like $1, $2, etc. All arguments will be safely escaped and mapped from their Go type to the correct Postgres type. (This is a direct proxy to pgx.)

	versionIDs, err := db.QueryScalar[uuid.UUID](ctx, conn,
		`
		SELECT id
		FROM asset_version
		WHERE
			asset_id = ANY($1)
			AND version > $2
		`,
		assetIDs,
		1,
	)

(This also demonstrates a useful tip: if you want to use a slice in your query, use Postgres arrays instead of IN.)

To query multiple columns at once, you may use a flat struct type with `db:"column_name"` tags, and the special $columns placeholder. Every exported field must either carry a tag or be tagged `db:"-"`:

	type Rendition struct {
		ID   uuid.UUID `db:"id"`
		Kind string    `db:"kind"`
		Key  string    `db:"key"`
	}
	renditions, err := db.Query[Rendition](ctx, conn, `SELECT $columns FROM rendition WHERE ...`)
	// Resulting query:
	// SELECT id, kind, key FROM rendition WHERE ...

Sometimes a table name prefix is required on each column to disambiguate between column names, especially when performing a JOIN. In those situations, you can include the prefix in the $columns placeholder like $columns{prefix}:

	versions, err := db.Query[AssetVersion](ctx, conn, `
		SELECT $columns{v}
		FROM
			asset_version AS v
			JOIN asset AS a ON a.current_version_id = v.id
		WHERE a.id = $1
	`, assetID)
	// Resulting query:
	// SELECT v.id, v.asset_id, ... FROM ...
*/
package db

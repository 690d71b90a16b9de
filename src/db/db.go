package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/jackc/pgx/v5"
)

/*
A general error to be used when no results are found. This is the error returned
by QueryOne, and can generally be used by other database helpers that fetch a single
result but find nothing.
*/
var NotFound = errors.New("not found")

/*
Performs a SQL query and returns a slice of all the result rows. The query is just plain SQL, but make sure to read the package documentation for details. You must explicitly provide the type argument - this is how it knows what Go type to map the results to, and it cannot be inferred.

Any SQL query may be performed, including INSERT and UPDATE - as long as it returns a result set, you can use this. If the query does not return a result set, or you simply do not care about the result set, call Exec directly on your pgx connection.

This function always returns pointers to the values. This is convenient for structs, but for other types, you may wish to use QueryScalar.
*/
func Query[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]*T, error) {
	rows, err := runQuery[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, rowMapper[T]())
	if err != nil {
		return nil, oops.New(err, "failed to read query results")
	}
	return result, nil
}

/*
Identical to Query, but returns only the first result row. If there are no
rows in the result set, returns NotFound.
*/
func QueryOne[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*T, error) {
	rows, err := runQuery[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectExactlyOneRow(rows, rowMapper[T]())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NotFound
		}
		if errors.Is(err, pgx.ErrTooManyRows) {
			return nil, oops.New(err, "expected at most one row")
		}
		return nil, oops.New(err, "failed to read query result")
	}
	return result, nil
}

/*
Identical to Query, but returns concrete values instead of pointers. More convenient
for primitive types.
*/
func QueryScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]T, error) {
	rows, err := runQuery[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowTo[T])
	if err != nil {
		return nil, oops.New(err, "failed to read query results")
	}
	return result, nil
}

/*
Identical to QueryScalar, but returns only the first result value. If there are
no rows in the result set, returns NotFound.
*/
func QueryOneScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (T, error) {
	var zero T
	rows, err := runQuery[T](ctx, conn, query, args...)
	if err != nil {
		return zero, err
	}
	result, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, NotFound
		}
		return zero, oops.New(err, "failed to read query result")
	}
	return result, nil
}

// Runs fn inside a transaction, committing if it returns nil and rolling back
// otherwise.
func WithTx(ctx context.Context, conn ConnOrTx, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(context.Background())

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.New(err, "failed to commit transaction")
	}
	return nil
}

func runQuery[T any](ctx context.Context, conn ConnOrTx, query string, args ...any) (pgx.Rows, error) {
	var destExample T
	compiled, err := compileQuery(query, reflect.TypeOf(destExample))
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, compiled, args...)
	if err != nil {
		return nil, oops.New(err, "query failed")
	}
	return rows, nil
}

func rowMapper[T any]() pgx.RowToFunc[*T] {
	var destExample T
	if isScalarType(reflect.TypeOf(destExample)) {
		return pgx.RowToAddrOf[T]
	}
	return pgx.RowToAddrOfStructByName[T]
}

var timeType = reflect.TypeOf(time.Time{})

func isScalarType(t reflect.Type) bool {
	return t.Kind() != reflect.Struct || t == timeType
}

var reColumnsPlaceholder = regexp.MustCompile(`\$columns({(.*?)})?`)

func compileQuery(query string, destType reflect.Type) (string, error) {
	columnsMatch := reColumnsPlaceholder.FindStringSubmatch(query)
	if columnsMatch == nil {
		return query, nil
	}

	// The presence of the $columns placeholder means that the destination type
	// must be a struct, and we will plonk that struct's fields into the query.
	if destType == nil || isScalarType(destType) {
		return "", oops.New(nil, "$columns can only be used when querying into a struct")
	}

	columnNames, _, err := getColumnNamesAndPaths(destType, nil, columnsMatch[2])
	if err != nil {
		return "", err
	}

	return reColumnsPlaceholder.ReplaceAllLiteralString(query, strings.Join(columnNames, ", ")), nil
}

/*
Returns the column names for every `db`-tagged field of destType, along with the
index path of each field. Fields tagged `db:"-"` or without a tag are skipped.
Nested structs are not supported; the row mapper matches columns to fields by
name and needs a flat layout.
*/
func getColumnNamesAndPaths(destType reflect.Type, pathSoFar []int, prefix string) (names []string, paths [][]int, err error) {
	if destType.Kind() == reflect.Ptr {
		destType = destType.Elem()
	}
	if destType.Kind() != reflect.Struct {
		return nil, nil, oops.New(nil, "can only get column names and paths from a struct, got type '%v'", destType)
	}

	for i := 0; i < destType.NumField(); i++ {
		field := destType.Field(i)
		path := append(append([]int(nil), pathSoFar...), i)

		columnName, ok := field.Tag.Lookup("db")
		if !ok || columnName == "-" {
			continue
		}
		if !field.IsExported() {
			return nil, nil, oops.New(nil, "field %s has a db tag but is not exported", field.Name)
		}

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}
		if !isScalarType(fieldType) {
			return nil, nil, oops.New(nil, "field %s is a nested struct (%v), which is not supported", field.Name, fieldType)
		}

		if prefix != "" {
			columnName = fmt.Sprintf("%s.%s", prefix, columnName)
		}
		names = append(names, columnName)
		paths = append(paths, path)
	}

	return names, paths, nil
}

package db

import (
	"fmt"
	"strings"
)

// QueryBuilder assembles a query from chunks, numbering `$?` placeholders as
// it goes. Use it when parts of a query are conditional.
type QueryBuilder struct {
	sql  strings.Builder
	args []any
}

/*
Adds the given SQL and arguments to the query, on a line of its own. Each `$?`
becomes the next argument number:

	qb.Add(`WHERE id = $?`, id)        // WHERE id = $1
	qb.Add(`AND state = ANY($?)`, ss)  // AND state = ANY($2)
*/
func (qb *QueryBuilder) Add(sql string, args ...any) {
	numPlaceholders := strings.Count(sql, "$?")
	if numPlaceholders != len(args) {
		panic(fmt.Errorf("cannot add chunk to query; expected %d arguments but got %d", numPlaceholders, len(args)))
	}

	for _, arg := range args {
		sql = strings.Replace(sql, "$?", fmt.Sprintf("$%d", len(qb.args)+1), 1)
		qb.args = append(qb.args, arg)
	}

	qb.sql.WriteString(sql)
	qb.sql.WriteString("\n")
}

// Adds the chunk only when cond holds. Arguments are still evaluated by the
// caller, so they must be valid either way.
func (qb *QueryBuilder) AddIf(cond bool, sql string, args ...any) {
	if cond {
		qb.Add(sql, args...)
	}
}

func (qb *QueryBuilder) String() string {
	return qb.sql.String()
}

func (qb *QueryBuilder) Args() []any {
	return qb.args
}

package postgres

import (
	"fmt"
	"strings"
)

// QueryBuilder compiles parameterised SQL by positional-placeholder
// substitution over a table name and column list. It holds no connection
// state; it only produces SQL text, which lets the Persistence Gateway keep
// statement shape and argument binding separate.
type QueryBuilder struct{}

// NewQueryBuilder returns a QueryBuilder. It is stateless and safe to share.
func NewQueryBuilder() QueryBuilder {
	return QueryBuilder{}
}

// PrepareInsertStatement builds "INSERT INTO T (c1,...,cN) VALUES ($1,...,$N)".
func (QueryBuilder) PrepareInsertStatement(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ","),
		strings.Join(placeholders, ","),
	)
}

// PrepareUpdateStatement builds "UPDATE T SET c1=$1,...,c{N-1}=${N-1} WHERE cN=$N".
// The last column in the list is treated as the primary-key filter.
func (QueryBuilder) PrepareUpdateStatement(table string, columns []string) string {
	n := len(columns)
	setClauses := make([]string, 0, n-1)
	for i := 0; i < n-1; i++ {
		setClauses = append(setClauses, fmt.Sprintf("%s=$%d", columns[i], i+1))
	}
	pk := columns[n-1]
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s=$%d",
		table,
		strings.Join(setClauses, ","),
		pk,
		n,
	)
}

// PrepareFetchStatement builds "SELECT * FROM T" with an optional
// "WHERE c1=$1 AND c2=$2 ..." clause when filterColumns is non-empty.
func (QueryBuilder) PrepareFetchStatement(table string, filterColumns []string) string {
	stmt := fmt.Sprintf("SELECT * FROM %s", table)
	if len(filterColumns) == 0 {
		return stmt
	}
	return stmt + " WHERE " + whereClause(filterColumns)
}

// PrepareRemoveStatement builds "DELETE FROM T" with the same optional WHERE
// clause shape as PrepareFetchStatement.
func (QueryBuilder) PrepareRemoveStatement(table string, filterColumns []string) string {
	stmt := fmt.Sprintf("DELETE FROM %s", table)
	if len(filterColumns) == 0 {
		return stmt
	}
	return stmt + " WHERE " + whereClause(filterColumns)
}

func whereClause(columns []string) string {
	clauses := make([]string, len(columns))
	for i, c := range columns {
		clauses[i] = fmt.Sprintf("%s=$%d", c, i+1)
	}
	return strings.Join(clauses, " AND ")
}

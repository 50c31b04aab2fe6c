package trustcore

import (
	"fmt"

	"trustcore/internal/sqlbuilder"
)

// Op is a filter operator.
type Op string

// Supported filter operators.
const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpLike   Op = "like"
	OpIn     Op = "in"
	OpIsNull Op = "isnull"
)

// Filter is a tagged "field op value" expression. Callers build filters
// instead of raw WHERE strings; Where maps them onto dialect SQL.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Filters is an AND-joined list of Filter.
type Filters []Filter

// Dialect quotes identifiers for one SQL flavour.
type Dialect interface {
	Quote(identifier string) string
}

// ANSIDialect quotes with double quotes (sqlite, postgres).
type ANSIDialect struct{}

func (ANSIDialect) Quote(identifier string) string { return `"` + identifier + `"` }

// MySQLDialect quotes with backticks.
type MySQLDialect struct{}

func (MySQLDialect) Quote(identifier string) string { return "`" + identifier + "`" }

// DialectFor returns the Dialect for a database/sql driver name.
func DialectFor(driver string) Dialect {
	if driver == "mysql" {
		return MySQLDialect{}
	}
	return ANSIDialect{}
}

// Where renders fs as a WHERE clause body with '?' placeholders.
// An empty list renders as "" with no args.
func (fs Filters) Where(d Dialect) (string, []any, error) {
	conds := make([]sqlbuilder.Condition, len(fs))
	for i, f := range fs {
		conds[i] = sqlbuilder.Condition{Column: f.Field, Op: string(f.Op), Value: f.Value}
	}
	clause, args, err := sqlbuilder.BuildWhere(d, conds)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return clause, args, nil
}

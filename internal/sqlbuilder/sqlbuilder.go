package sqlbuilder

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Dialector quotes identifiers for a specific SQL dialect. Placeholders are
// always '?' here; callers rebind through sqlx for postgres.
type Dialector interface {
	Quote(identifier string) string
}

// Condition is one "column op value" term of a WHERE clause.
type Condition struct {
	Column string
	Op     string
	Value  interface{}
}

var (
	ErrUnknownOperator = errors.New("sqlbuilder: unknown operator")
	ErrBadColumn       = errors.New("sqlbuilder: invalid column name")
)

var columnRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var comparisonOps = map[string]string{
	"eq":   "=",
	"ne":   "<>",
	"gt":   ">",
	"gte":  ">=",
	"lt":   "<",
	"lte":  "<=",
	"like": "LIKE",
}

// BuildWhere turns conditions into a clause joined by AND plus its bind args.
// "in" expands a slice into one placeholder per element; an empty slice
// becomes IN (NULL) so it matches nothing. "isnull" takes a bool value:
// true for IS NULL, false for IS NOT NULL.
func BuildWhere(d Dialector, conds []Condition) (string, []interface{}, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	args := make([]interface{}, 0, len(conds))

	for _, c := range conds {
		if !columnRegex.MatchString(c.Column) {
			return "", nil, fmt.Errorf("%w: %q", ErrBadColumn, c.Column)
		}
		col := quoteColumn(d, c.Column)
		op := strings.ToLower(c.Op)

		if sqlOp, ok := comparisonOps[op]; ok {
			parts = append(parts, fmt.Sprintf("%s %s ?", col, sqlOp))
			args = append(args, c.Value)
			continue
		}

		switch op {
		case "in":
			v := reflect.ValueOf(c.Value)
			if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
				return "", nil, fmt.Errorf("sqlbuilder: IN on %q needs a slice, got %T", c.Column, c.Value)
			}
			if v.Len() == 0 {
				parts = append(parts, col+" IN (NULL)")
				continue
			}
			placeholders := make([]string, v.Len())
			for i := 0; i < v.Len(); i++ {
				placeholders[i] = "?"
				args = append(args, v.Index(i).Interface())
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
		case "isnull":
			isNull, ok := c.Value.(bool)
			if !ok {
				return "", nil, fmt.Errorf("sqlbuilder: isnull on %q needs a bool, got %T", c.Column, c.Value)
			}
			if isNull {
				parts = append(parts, col+" IS NULL")
			} else {
				parts = append(parts, col+" IS NOT NULL")
			}
		default:
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Op)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// BuildSelectSQL builds "SELECT cols FROM table [WHERE where] [ORDER BY order]".
func BuildSelectSQL(d Dialector, table string, columns []string, where, order string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteColumn(d, c)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), d.Quote(table))
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(order)
	}
	return b.String()
}

func quoteColumn(d Dialector, column string) string {
	if i := strings.IndexByte(column, '.'); i > 0 {
		return d.Quote(column[:i]) + "." + d.Quote(column[i+1:])
	}
	return d.Quote(column)
}

package trustcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilters_Where(t *testing.T) {
	fs := Filters{
		{Field: "category", Op: OpEq, Value: "restaurant"},
		{Field: "trust_score", Op: OpGte, Value: 70},
		{Field: "b.city", Op: OpIn, Value: []string{"Pune", "Mumbai"}},
		{Field: "deleted_at", Op: OpIsNull, Value: true},
	}

	clause, args, err := fs.Where(ANSIDialect{})
	require.NoError(t, err)
	assert.Equal(t, `"category" = ? AND "trust_score" >= ? AND "b"."city" IN (?, ?) AND "deleted_at" IS NULL`, clause)
	assert.Equal(t, []any{"restaurant", 70, "Pune", "Mumbai"}, args)

	clause, _, err = Filters{{Field: "name", Op: OpLike, Value: "%chai%"}}.Where(MySQLDialect{})
	require.NoError(t, err)
	assert.Equal(t, "`name` LIKE ?", clause)
}

func TestFilters_WhereEdgeCases(t *testing.T) {
	clause, args, err := Filters{}.Where(ANSIDialect{})
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Empty(t, args)

	clause, args, err = Filters{{Field: "id", Op: OpIn, Value: []int{}}}.Where(ANSIDialect{})
	require.NoError(t, err)
	assert.Equal(t, `"id" IN (NULL)`, clause)
	assert.Empty(t, args)

	clause, _, err = Filters{{Field: "phone", Op: OpIsNull, Value: false}}.Where(ANSIDialect{})
	require.NoError(t, err)
	assert.Equal(t, `"phone" IS NOT NULL`, clause)
}

func TestFilters_WhereRejects(t *testing.T) {
	cases := map[string]Filters{
		"unknown op":       {{Field: "name", Op: "regex", Value: ".*"}},
		"injection field":  {{Field: "name; DROP TABLE businesses", Op: OpEq, Value: 1}},
		"in without slice": {{Field: "id", Op: OpIn, Value: 3}},
		"isnull non bool":  {{Field: "id", Op: OpIsNull, Value: "yes"}},
	}
	for name, fs := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := fs.Where(ANSIDialect{})
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, "`x`", DialectFor("mysql").Quote("x"))
	assert.Equal(t, `"x"`, DialectFor("postgres").Quote("x"))
	assert.Equal(t, `"x"`, DialectFor("sqlite3").Quote("x"))
}

package pgdocs

import (
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/live"
)

func TestCompileQuery(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("EAT", 3*3600))

	tests := []struct {
		name     string
		query    live.Query
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "collection only",
			query:    live.NewQuery("courses"),
			wantSQL:  "SELECT id, fields FROM documents WHERE collection = $1 ORDER BY id ASC",
			wantArgs: []interface{}{"courses"},
		},
		{
			name:  "equality and range",
			query: live.NewQuery("courses").Where("published", live.OpEq, true).Where("level", live.OpGte, 2),
			wantSQL: "SELECT id, fields FROM documents WHERE collection = $1" +
				" AND (fields #> $2::text[]) = $3::jsonb" +
				" AND (jsonb_typeof((fields #> $4::text[])) = jsonb_typeof($5::jsonb) AND (fields #> $4::text[]) >= $5::jsonb)" +
				" ORDER BY id ASC",
			wantArgs: []interface{}{
				"courses",
				pq.Array([]string{"published"}), "true",
				pq.Array([]string{"level"}), "2",
			},
		},
		{
			name:  "nested field and time",
			query: live.NewQuery("courses").Where("meta.createdAt", live.OpLt, createdAt),
			wantSQL: "SELECT id, fields FROM documents WHERE collection = $1" +
				" AND (jsonb_typeof((fields #> $2::text[])) = jsonb_typeof($3::jsonb) AND (fields #> $2::text[]) < $3::jsonb)" +
				" ORDER BY id ASC",
			wantArgs: []interface{}{
				"courses",
				pq.Array([]string{"meta", "createdAt"}), `"2024-03-01T09:00:00.000000000Z"`,
			},
		},
		{
			name:  "in and array-contains",
			query: live.NewQuery("courses").Where("subject", live.OpIn, []string{"math", "physics"}).Where("enrolled", live.OpArrayContains, "u1"),
			wantSQL: "SELECT id, fields FROM documents WHERE collection = $1" +
				" AND (fields #> $2::text[]) = ANY($3::jsonb[])" +
				" AND (jsonb_typeof((fields #> $4::text[])) = 'array' AND (fields #> $4::text[]) @> jsonb_build_array($5::jsonb))" +
				" ORDER BY id ASC",
			wantArgs: []interface{}{
				"courses",
				pq.Array([]string{"subject"}), pq.Array([]string{`"math"`, `"physics"`}),
				pq.Array([]string{"enrolled"}), `"u1"`,
			},
		},
		{
			name:  "id filters",
			query: live.NewQuery("courses").Where("id", live.OpIn, []interface{}{"a", "b"}).Where("id", live.OpNe, "c"),
			wantSQL: "SELECT id, fields FROM documents WHERE collection = $1" +
				" AND id = ANY($2::text[]) AND id <> $3 ORDER BY id ASC",
			wantArgs: []interface{}{"courses", pq.Array([]string{"a", "b"}), "c"},
		},
		{
			name:  "orderings and limit",
			query: live.NewQuery("courses").OrderBy("createdAt", false).OrderBy("title", true).WithLimit(5),
			wantSQL: "SELECT id, fields FROM documents WHERE collection = $1" +
				" ORDER BY " + rank("$2") + " DESC, (fields #> $2::text[]) DESC, " +
				rank("$3") + " ASC, (fields #> $3::text[]) ASC, id ASC LIMIT $4",
			wantArgs: []interface{}{
				"courses", pq.Array([]string{"createdAt"}), pq.Array([]string{"title"}), 5,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, args, err := compileQuery(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSQL, sql)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}

func rank(p string) string {
	return fmt.Sprintf(typeRank, "(fields #> "+p+"::text[])")
}

func TestCompileQuery_Errors(t *testing.T) {
	_, _, err := compileQuery(live.NewQuery("courses").Where("subject", live.OpIn, "math"))
	assert.Error(t, err, "in expects a list")

	_, _, err = compileQuery(live.NewQuery("courses").Where("id", live.OpArrayContains, "x"))
	assert.Error(t, err)
}

func TestSplitPath(t *testing.T) {
	collection, id := splitPath("courses/algebra-101")
	assert.Equal(t, "courses", collection)
	assert.Equal(t, "algebra-101", id)

	collection, id = splitPath("courses")
	assert.Equal(t, "courses", collection)
	assert.Empty(t, id)
}

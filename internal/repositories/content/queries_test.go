package content

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestChangedQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("first page", func(t *testing.T) {
		query, args := changedQuery(models.KindPerson, since, nil, 100)

		assert.True(t, strings.HasPrefix(query, "SELECT id, updated_at FROM content.person WHERE updated_at > $1 ORDER BY updated_at, id"))
		assert.Contains(t, query, "LIMIT")
		assert.Equal(t, since, args[0])
	})

	t.Run("keyset page", func(t *testing.T) {
		cursor := &Cursor{UpdatedAt: since.Add(time.Hour), ID: "4f1c7a8e-4d2b-4b6c-9a57-3c1d2e4f5a6b"}
		query, args := changedQuery(models.KindGenre, since, cursor, 100)

		assert.Contains(t, query, "FROM content.genre")
		assert.Contains(t, query, "updated_at > $1 AND (updated_at, id) > ($2, $3::uuid)")
		assert.Equal(t, since, args[0])
		assert.Equal(t, cursor.UpdatedAt, args[1])
		assert.Equal(t, cursor.ID, args[2])
	})
}

func TestAffectedFilmWorksQuery(t *testing.T) {
	tests := []struct {
		kind models.Kind
		join string
	}{
		{kind: models.KindPerson, join: "JOIN content.person_film_work j ON j.film_work_id = fw.id WHERE j.person_id IN ($1, $2)"},
		{kind: models.KindGenre, join: "JOIN content.genre_film_work j ON j.film_work_id = fw.id WHERE j.genre_id IN ($1, $2)"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			query, args, err := affectedFilmWorksQuery(tt.kind, []string{"a", "b"})
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(query, "SELECT DISTINCT fw.id, fw.updated_at FROM content.film_work fw"))
			assert.Contains(t, query, tt.join)
			assert.True(t, strings.HasSuffix(query, "ORDER BY fw.updated_at, fw.id ASC"))
			assert.Equal(t, []any{"a", "b"}, args)
		})
	}

	_, _, err := affectedFilmWorksQuery(models.KindFilmWork, []string{"a"})
	assert.Error(t, err)
}

func TestAggregateQuery(t *testing.T) {
	query, args := aggregateQuery([]string{"fw-1", "fw-2"})

	for _, fragment := range []string{
		"fw.id AS fw_id",
		"LEFT JOIN content.person_film_work pfw ON pfw.film_work_id = fw.id",
		"LEFT JOIN content.person p ON p.id = pfw.person_id",
		"LEFT JOIN content.genre_film_work gfw ON gfw.film_work_id = fw.id",
		"LEFT JOIN content.genre g ON g.id = gfw.genre_id",
		"WHERE fw.id IN ($1, $2)",
	} {
		assert.Contains(t, query, fragment)
	}
	assert.Equal(t, []any{"fw-1", "fw-2"}, args)
}

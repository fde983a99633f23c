package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds_Order(t *testing.T) {
	assert.Equal(t, []Kind{KindFilmWork, KindPerson, KindGenre}, Kinds())
	assert.True(t, KindFilmWork.IsRoot())
	assert.False(t, KindGenre.IsRoot())
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("person")
	require.NoError(t, err)
	assert.Equal(t, KindPerson, kind)

	_, err = ParseKind("person_film_work")
	assert.Error(t, err)
}

func TestKind_JoinTable(t *testing.T) {
	tests := []struct {
		kind   Kind
		table  string
		column string
		ok     bool
	}{
		{kind: KindPerson, table: "content.person_film_work", column: "person_id", ok: true},
		{kind: KindGenre, table: "content.genre_film_work", column: "genre_id", ok: true},
		{kind: KindFilmWork},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			table, column, ok := tt.kind.JoinTable()
			assert.Equal(t, tt.table, table)
			assert.Equal(t, tt.column, column)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewDocument_EmptyListsSerializeAsArrays(t *testing.T) {
	data, err := json.Marshal(NewDocument("fw-1"))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "fw-1",
		"title": "",
		"description": "",
		"rating": null,
		"director": "",
		"actors_names": [],
		"writers_names": [],
		"actors": [],
		"writers": [],
		"genre": []
	}`, string(data))
}

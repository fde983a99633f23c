package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceSchema = `
CREATE TABLE film_work (
    id TEXT PRIMARY KEY, title TEXT NOT NULL, description TEXT, creation_date DATE,
    file_path TEXT, rating FLOAT, type TEXT NOT NULL, created_at timestamp with time zone,
    updated_at timestamp with time zone);
CREATE TABLE person (
    id TEXT PRIMARY KEY, full_name TEXT NOT NULL, gender TEXT,
    created_at timestamp with time zone, updated_at timestamp with time zone);
CREATE TABLE genre (
    id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT,
    created_at timestamp with time zone, updated_at timestamp with time zone);
CREATE TABLE genre_film_work (
    id TEXT PRIMARY KEY, film_work_id TEXT NOT NULL, genre_id TEXT NOT NULL,
    created_at timestamp with time zone);
CREATE TABLE person_film_work (
    id TEXT PRIMARY KEY, film_work_id TEXT NOT NULL, person_id TEXT NOT NULL, role TEXT NOT NULL,
    created_at timestamp with time zone);
`

// legacySchema is the upstream layout: person has no gender, film_work has no file_path.
const legacySchema = `
CREATE TABLE film_work (
    id TEXT PRIMARY KEY, title TEXT NOT NULL, description TEXT, creation_date DATE,
    rating FLOAT, type TEXT NOT NULL, created_at timestamp with time zone,
    updated_at timestamp with time zone);
CREATE TABLE person (
    id TEXT PRIMARY KEY, full_name TEXT NOT NULL,
    created_at timestamp with time zone, updated_at timestamp with time zone);
CREATE TABLE genre (
    id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT,
    created_at timestamp with time zone, updated_at timestamp with time zone);
CREATE TABLE genre_film_work (
    id TEXT PRIMARY KEY, film_work_id TEXT NOT NULL, genre_id TEXT NOT NULL,
    created_at timestamp with time zone);
CREATE TABLE person_film_work (
    id TEXT PRIMARY KEY, film_work_id TEXT NOT NULL, person_id TEXT NOT NULL, role TEXT NOT NULL,
    created_at timestamp with time zone);
`

// newSourceFile writes a SQLite catalogue to a temp file and returns its path.
func newSourceFile(t *testing.T, statements ...string) string {
	t.Helper()
	return newSourceFileWithSchema(t, sourceSchema, statements...)
}

func newSourceFileWithSchema(t *testing.T, schema string, statements ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite")

	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, stmt := range statements {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func TestOpenSQLite_MissingFile(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "missing.sqlite"))
	assert.Error(t, err)
}

func TestOpenSQLite_ReadOnly(t *testing.T) {
	path := newSourceFile(t)

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO genre (id, name) VALUES ('g', 'Drama')`)
	assert.Error(t, err)
}

func TestReadTable_Chunks(t *testing.T) {
	var inserts []string
	for i := range 7 {
		inserts = append(inserts, fmt.Sprintf(
			`INSERT INTO genre (id, name, created_at, updated_at) VALUES ('g%d', 'Genre %d', '2021-06-16 20:14:09.221855+00', '2021-06-16 20:14:09.221855+00')`, i, i))
	}
	path := newSourceFile(t, inserts...)

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var sizes []int
	var ids []string
	for chunk, err := range readTable[genreRecord](context.Background(), db, "genre", []string{"id", "name", "description", "created_at", "updated_at"}, 3) {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
		for _, rec := range chunk {
			ids = append(ids, rec.key())
			assert.False(t, rec.Description.Valid)
		}
	}

	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, []string{"g0", "g1", "g2", "g3", "g4", "g5", "g6"}, ids)
}

func TestReadTable_StopEarly(t *testing.T) {
	path := newSourceFile(t,
		`INSERT INTO genre (id, name) VALUES ('g1', 'Drama')`,
		`INSERT INTO genre (id, name) VALUES ('g2', 'Comedy')`,
	)

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	seen := 0
	for _, err := range readTable[genreRecord](context.Background(), db, "genre", []string{"id", "name"}, 1) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestReadTable_UnknownTable(t *testing.T) {
	path := newSourceFile(t)

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var gotErr error
	for _, err := range readTable[genreRecord](context.Background(), db, "missing", []string{"id"}, 10) {
		gotErr = err
	}
	assert.Error(t, gotErr)
}

func TestTableColumns(t *testing.T) {
	db, err := OpenSQLite(context.Background(), newSourceFileWithSchema(t, legacySchema))
	require.NoError(t, err)
	defer db.Close()

	cols, err := tableColumns(context.Background(), db, "person")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "full_name", "created_at", "updated_at"}, cols)

	cols, err = tableColumns(context.Background(), db, "missing")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestLoader_SourceColumns(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	spec := tableSpec{
		source:   "person",
		columns:  []string{"id", "full_name", "created_at", "updated_at"},
		optional: []string{"gender"},
	}

	for name, tc := range map[string]struct {
		schema string
		want   []string
	}{
		"legacy":  {schema: legacySchema, want: []string{"id", "full_name", "created_at", "updated_at"}},
		"current": {schema: sourceSchema, want: []string{"id", "full_name", "created_at", "updated_at", "gender"}},
	} {
		t.Run(name, func(t *testing.T) {
			db, err := OpenSQLite(context.Background(), newSourceFileWithSchema(t, tc.schema))
			require.NoError(t, err)
			defer db.Close()

			l := NewLoader(db, nil, 0, logger)
			cols, err := l.sourceColumns(context.Background(), spec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cols)
		})
	}
}

func TestReadTable_LegacyPerson(t *testing.T) {
	path := newSourceFileWithSchema(t, legacySchema,
		`INSERT INTO person (id, full_name) VALUES ('p1', 'Ann Lee')`,
	)
	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	for chunk, err := range readTable[personRecord](context.Background(), db, "person", []string{"id", "full_name", "created_at", "updated_at"}, 10) {
		require.NoError(t, err)
		require.Len(t, chunk, 1)
		assert.Equal(t, "Ann Lee", chunk[0].FullName.String)
		assert.False(t, chunk[0].Gender.Valid)
	}
}

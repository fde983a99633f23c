package loader

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	DefaultDescription      = "No description available."
	DefaultGenreDescription = "No description available."
	DefaultRating           = 0.0
)

// DefaultCreationDate replaces a missing film creation date.
var DefaultCreationDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrMalformedRow wraps every reason a source row is skipped.
var ErrMalformedRow = errors.New("malformed row")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// record is a raw source row that converts into a destination model.
type record[M any] interface {
	key() string
	toModel() (M, error)
}

// Every source column is read as text so a bad value fails conversion for
// its row instead of the scan for the whole table.
type filmWorkRecord struct {
	ID           sql.NullString `db:"id"`
	Title        sql.NullString `db:"title"`
	Description  sql.NullString `db:"description"`
	CreationDate sql.NullString `db:"creation_date"`
	Rating       sql.NullString `db:"rating"`
	Type         sql.NullString `db:"type"`
	FilePath     sql.NullString `db:"file_path"`
	CreatedAt    sql.NullString `db:"created_at"`
	UpdatedAt    sql.NullString `db:"updated_at"`
}

type personRecord struct {
	ID        sql.NullString `db:"id"`
	FullName  sql.NullString `db:"full_name"`
	Gender    sql.NullString `db:"gender"`
	CreatedAt sql.NullString `db:"created_at"`
	UpdatedAt sql.NullString `db:"updated_at"`
}

type genreRecord struct {
	ID          sql.NullString `db:"id"`
	Name        sql.NullString `db:"name"`
	Description sql.NullString `db:"description"`
	CreatedAt   sql.NullString `db:"created_at"`
	UpdatedAt   sql.NullString `db:"updated_at"`
}

type genreFilmWorkRecord struct {
	ID         sql.NullString `db:"id"`
	FilmWorkID sql.NullString `db:"film_work_id"`
	GenreID    sql.NullString `db:"genre_id"`
	CreatedAt  sql.NullString `db:"created_at"`
}

type personFilmWorkRecord struct {
	ID         sql.NullString `db:"id"`
	FilmWorkID sql.NullString `db:"film_work_id"`
	PersonID   sql.NullString `db:"person_id"`
	Role       sql.NullString `db:"role"`
	CreatedAt  sql.NullString `db:"created_at"`
}

func (r filmWorkRecord) key() string       { return r.ID.String }
func (r personRecord) key() string         { return r.ID.String }
func (r genreRecord) key() string          { return r.ID.String }
func (r genreFilmWorkRecord) key() string  { return r.ID.String }
func (r personFilmWorkRecord) key() string { return r.ID.String }

func (r filmWorkRecord) toModel() (models.FilmWork, error) {
	fw := models.FilmWork{
		ID:          r.ID.String,
		Title:       r.Title.String,
		Description: textOr(r.Description, DefaultDescription),
		Rating:      DefaultRating,
		Type:        models.FilmType(r.Type.String),
	}

	var err error
	if fw.CreationDate, err = timeOr(r.CreationDate, DefaultCreationDate); err != nil {
		return fw, fieldError("creation_date", err)
	}
	if present(r.Rating) {
		if fw.Rating, err = strconv.ParseFloat(strings.TrimSpace(r.Rating.String), 64); err != nil {
			return fw, fieldError("rating", err)
		}
	}

	filePath := textOr(r.FilePath, "./"+strings.ReplaceAll(r.Title.String, " ", ""))
	fw.FilePath = sql.NullString{String: filePath, Valid: true}

	if fw.CreatedAt, err = timeOr(r.CreatedAt, time.Time{}); err != nil {
		return fw, fieldError("created_at", err)
	}
	if fw.UpdatedAt, err = timeOr(r.UpdatedAt, time.Time{}); err != nil {
		return fw, fieldError("updated_at", err)
	}
	return fw, nil
}

func (r personRecord) toModel() (models.Person, error) {
	p := models.Person{
		ID:       r.ID.String,
		FullName: r.FullName.String,
	}
	if present(r.Gender) {
		p.Gender = sql.NullString{String: strings.ToLower(strings.TrimSpace(r.Gender.String)), Valid: true}
	}

	var err error
	if p.CreatedAt, err = timeOr(r.CreatedAt, time.Time{}); err != nil {
		return p, fieldError("created_at", err)
	}
	if p.UpdatedAt, err = timeOr(r.UpdatedAt, time.Time{}); err != nil {
		return p, fieldError("updated_at", err)
	}
	return p, nil
}

func (r genreRecord) toModel() (models.Genre, error) {
	g := models.Genre{
		ID:          r.ID.String,
		Name:        r.Name.String,
		Description: textOr(r.Description, DefaultGenreDescription),
	}

	var err error
	if g.CreatedAt, err = timeOr(r.CreatedAt, time.Time{}); err != nil {
		return g, fieldError("created_at", err)
	}
	if g.UpdatedAt, err = timeOr(r.UpdatedAt, time.Time{}); err != nil {
		return g, fieldError("updated_at", err)
	}
	return g, nil
}

func (r genreFilmWorkRecord) toModel() (models.GenreFilmWork, error) {
	gfw := models.GenreFilmWork{
		ID:         r.ID.String,
		FilmWorkID: r.FilmWorkID.String,
		GenreID:    r.GenreID.String,
	}

	var err error
	if gfw.CreatedAt, err = timeOr(r.CreatedAt, time.Time{}); err != nil {
		return gfw, fieldError("created_at", err)
	}
	return gfw, nil
}

func (r personFilmWorkRecord) toModel() (models.PersonFilmWork, error) {
	pfw := models.PersonFilmWork{
		ID:         r.ID.String,
		FilmWorkID: r.FilmWorkID.String,
		PersonID:   r.PersonID.String,
	}
	if present(r.Role) {
		pfw.Role = sql.NullString{String: strings.TrimSpace(r.Role.String), Valid: true}
	}

	var err error
	if pfw.CreatedAt, err = timeOr(r.CreatedAt, time.Time{}); err != nil {
		return pfw, fieldError("created_at", err)
	}
	return pfw, nil
}

func present(s sql.NullString) bool {
	return s.Valid && strings.TrimSpace(s.String) != ""
}

func textOr(s sql.NullString, fallback string) string {
	if present(s) {
		return s.String
	}
	return fallback
}

func timeOr(s sql.NullString, fallback time.Time) (time.Time, error) {
	if !present(s) {
		return fallback, nil
	}
	return parseTime(s.String)
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func fieldError(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedRow, field, err)
}

// newValidator validates models with sql.Null* fields treated as their
// underlying value, or as empty when null.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if valuer, ok := field.Interface().(driver.Valuer); ok {
			if val, err := valuer.Value(); err == nil {
				return val
			}
		}
		return nil
	}, sql.NullString{}, sql.NullFloat64{})
	return v
}

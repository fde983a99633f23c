package testhelpers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Seeder inserts catalogue rows with explicit modification times.
type Seeder struct {
	t  *testing.T
	db database.DB
}

func NewSeeder(t *testing.T, db database.DB) *Seeder {
	return &Seeder{t: t, db: db}
}

func (s *Seeder) insert(table string, template any, row any) {
	s.t.Helper()
	query, args := database.NewStruct(template).InsertInto(table, row).Build()
	if _, err := s.db.ExecContext(context.Background(), query, args...); err != nil {
		s.t.Fatalf("failed to seed %s: %v", table, err)
	}
}

func (s *Seeder) FilmWork(title string, rating float64, updatedAt time.Time) models.FilmWork {
	s.t.Helper()
	fw := models.FilmWork{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  title + " description",
		CreationDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Rating:       rating,
		Type:         models.FilmTypeMovie,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
	s.insert(fw.TableName(), new(models.FilmWork), &fw)
	return fw
}

func (s *Seeder) Person(fullName string, updatedAt time.Time) models.Person {
	s.t.Helper()
	p := models.Person{
		ID:        uuid.NewString(),
		FullName:  fullName,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	s.insert(p.TableName(), new(models.Person), &p)
	return p
}

func (s *Seeder) Genre(name string, updatedAt time.Time) models.Genre {
	s.t.Helper()
	g := models.Genre{
		ID:          uuid.NewString(),
		Name:        name,
		Description: name + " description",
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
	}
	s.insert(g.TableName(), new(models.Genre), &g)
	return g
}

func (s *Seeder) Cast(fw models.FilmWork, p models.Person, role models.Role) {
	s.t.Helper()
	link := models.PersonFilmWork{
		ID:         uuid.NewString(),
		FilmWorkID: fw.ID,
		PersonID:   p.ID,
		Role:       sql.NullString{String: string(role), Valid: role != ""},
		CreatedAt:  time.Now().UTC(),
	}
	s.insert(link.TableName(), new(models.PersonFilmWork), &link)
}

func (s *Seeder) Tag(fw models.FilmWork, g models.Genre) {
	s.t.Helper()
	link := models.GenreFilmWork{
		ID:         uuid.NewString(),
		FilmWorkID: fw.ID,
		GenreID:    g.ID,
		CreatedAt:  time.Now().UTC(),
	}
	s.insert(link.TableName(), new(models.GenreFilmWork), &link)
}

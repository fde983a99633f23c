package models

import (
	"database/sql"
	"time"
)

type FilmType string

const (
	FilmTypeMovie  FilmType = "movie"
	FilmTypeTVShow FilmType = "tv_show"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Role is an open set; unknown roles are stored but not denormalized.
type Role string

const (
	RoleActor    Role = "actor"
	RoleDirector Role = "director"
	RoleWriter   Role = "writer"
	RoleProducer Role = "producer"
)

type FilmWork struct {
	ID           string         `db:"id" json:"id" validate:"required,uuid"`
	Title        string         `db:"title" json:"title" validate:"required,max=255"`
	Description  string         `db:"description" json:"description"`
	CreationDate time.Time      `db:"creation_date" json:"creation_date"`
	Rating       float64        `db:"rating" json:"rating" validate:"gte=0,lte=100"`
	Type         FilmType       `db:"type" json:"type" validate:"required,oneof=movie tv_show"`
	FilePath     sql.NullString `db:"file_path" json:"file_path"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at" validate:"required"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at" validate:"required"`
}

func (FilmWork) TableName() string {
	return KindFilmWork.Table()
}

type Person struct {
	ID        string         `db:"id" json:"id" validate:"required,uuid"`
	FullName  string         `db:"full_name" json:"full_name" validate:"required,max=255"`
	Gender    sql.NullString `db:"gender" json:"gender" validate:"omitempty,oneof=male female"`
	CreatedAt time.Time      `db:"created_at" json:"created_at" validate:"required"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at" validate:"required"`
}

func (Person) TableName() string {
	return KindPerson.Table()
}

type Genre struct {
	ID          string    `db:"id" json:"id" validate:"required,uuid"`
	Name        string    `db:"name" json:"name" validate:"required,max=255"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" validate:"required"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at" validate:"required"`
}

func (Genre) TableName() string {
	return KindGenre.Table()
}

type GenreFilmWork struct {
	ID         string    `db:"id" json:"id" validate:"required,uuid"`
	FilmWorkID string    `db:"film_work_id" json:"film_work_id" validate:"required,uuid"`
	GenreID    string    `db:"genre_id" json:"genre_id" validate:"required,uuid"`
	CreatedAt  time.Time `db:"created_at" json:"created_at" validate:"required"`
}

func (GenreFilmWork) TableName() string {
	return Schema + ".genre_film_work"
}

type PersonFilmWork struct {
	ID         string         `db:"id" json:"id" validate:"required,uuid"`
	FilmWorkID string         `db:"film_work_id" json:"film_work_id" validate:"required,uuid"`
	PersonID   string         `db:"person_id" json:"person_id" validate:"required,uuid"`
	Role       sql.NullString `db:"role" json:"role" validate:"omitempty,max=64"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at" validate:"required"`
}

func (PersonFilmWork) TableName() string {
	return Schema + ".person_film_work"
}

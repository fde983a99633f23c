package models

import "fmt"

// Kind is a tracked entity table. Each kind has its own watermark.
type Kind string

const (
	KindFilmWork Kind = "film_work"
	KindPerson   Kind = "person"
	KindGenre    Kind = "genre"
)

// Schema holds every content table.
const Schema = "content"

// Kinds returns the sync order.
func Kinds() []Kind {
	return []Kind{KindFilmWork, KindPerson, KindGenre}
}

func ParseKind(s string) (Kind, error) {
	for _, kind := range Kinds() {
		if string(kind) == s {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// IsRoot reports whether documents are keyed by this kind's ids.
func (k Kind) IsRoot() bool {
	return k == KindFilmWork
}

func (k Kind) Table() string {
	return Schema + "." + string(k)
}

// JoinTable returns the relation linking this kind to film works and the
// column holding this kind's id. The root kind has no join table.
func (k Kind) JoinTable() (table string, column string, ok bool) {
	switch k {
	case KindPerson:
		return Schema + ".person_film_work", "person_id", true
	case KindGenre:
		return Schema + ".genre_film_work", "genre_id", true
	default:
		return "", "", false
	}
}

func (k Kind) String() string {
	return string(k)
}

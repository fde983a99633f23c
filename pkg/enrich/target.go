// Package enrich builds search documents for a set of film works by merging
// their joined participant and genre rows.
package enrich

import (
	"iter"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Stats counts what Merge saw during one sync.
type Stats struct {
	Rows            int
	UnknownRows     int
	ScalarConflicts int
}

// Target holds one document per film work id. Its keys are fixed by Add;
// Merge never creates or removes entries.
type Target struct {
	docs  map[string]*models.Document
	order []string
	stats Stats
}

func NewTarget() *Target {
	return &Target{docs: map[string]*models.Document{}}
}

// Add creates an empty document for each id not already present.
func (t *Target) Add(ids ...string) {
	for _, id := range ids {
		if _, ok := t.docs[id]; ok {
			continue
		}
		t.docs[id] = models.NewDocument(id)
		t.order = append(t.order, id)
	}
}

func (t *Target) Len() int {
	return len(t.order)
}

// IDs returns the keys in first-seen order.
func (t *Target) IDs() []string {
	return append([]string(nil), t.order...)
}

func (t *Target) Get(id string) (*models.Document, bool) {
	doc, ok := t.docs[id]
	return doc, ok
}

func (t *Target) Stats() Stats {
	return t.stats
}

// Documents yields the documents in first-seen order.
func (t *Target) Documents() iter.Seq[models.Document] {
	return func(yield func(models.Document) bool) {
		for _, id := range t.order {
			if !yield(*t.docs[id]) {
				return
			}
		}
	}
}

// Merge folds one joined row into its document. A non-null scalar overwrites
// the document's value, so the last row wins; a null scalar leaves the value
// an earlier row set. Participant and genre names are appended when absent.
// It reports whether the row's film work is a key, and which already-set
// scalars the row changed.
func (t *Target) Merge(row content.AggregateRow) (bool, []string) {
	t.stats.Rows++

	doc, ok := t.docs[row.FilmWorkID]
	if !ok {
		t.stats.UnknownRows++
		return false, nil
	}

	var conflicts []string
	if row.Title.Valid {
		if doc.Title != "" && doc.Title != row.Title.String {
			conflicts = append(conflicts, "title")
		}
		doc.Title = row.Title.String
	}
	if row.Description.Valid {
		if doc.Description != "" && doc.Description != row.Description.String {
			conflicts = append(conflicts, "description")
		}
		doc.Description = row.Description.String
	}
	if row.Rating.Valid {
		if doc.Rating != nil && *doc.Rating != row.Rating.Float64 {
			conflicts = append(conflicts, "rating")
		}
		rating := row.Rating.Float64
		doc.Rating = &rating
	}
	t.stats.ScalarConflicts += len(conflicts)

	if row.Role.Valid && row.PersonName.Valid {
		mergePerson(doc, models.Role(row.Role.String), models.PersonRef{
			ID:   row.PersonID.String,
			Name: row.PersonName.String,
		})
	}

	if row.GenreName.Valid && !ectolinq.Contains(doc.Genre, row.GenreName.String) {
		doc.Genre = append(doc.Genre, row.GenreName.String)
	}

	return true, conflicts
}

func mergePerson(doc *models.Document, role models.Role, person models.PersonRef) {
	switch role {
	case models.RoleDirector:
		doc.Director = person.Name
	case models.RoleActor:
		if !ectolinq.Contains(doc.ActorsNames, person.Name) {
			doc.ActorsNames = append(doc.ActorsNames, person.Name)
			doc.Actors = append(doc.Actors, person)
		}
	case models.RoleWriter:
		if !ectolinq.Contains(doc.WritersNames, person.Name) {
			doc.WritersNames = append(doc.WritersNames, person.Name)
			doc.Writers = append(doc.Writers, person)
		}
	}
}

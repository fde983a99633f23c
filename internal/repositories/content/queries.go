package content

import (
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Cursor is the (updated_at, id) position of the last row of a page.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// changedQuery pages through rows of kind modified after since, in
// (updated_at, id) order, starting strictly after the cursor when given.
func changedQuery(kind models.Kind, since time.Time, after *Cursor, limit int) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select("id", "updated_at").From(kind.Table())
	sb.Where(sb.GreaterThan("updated_at", since))
	if after != nil {
		sb.Where(fmt.Sprintf("(updated_at, id) > (%s, %s::uuid)", sb.Var(after.UpdatedAt), sb.Var(after.ID)))
	}
	sb.OrderBy("updated_at", "id").Asc()
	sb.Limit(limit)
	return sb.Build()
}

// affectedFilmWorksQuery selects the film works linked to any of ids through
// kind's join table, oldest modification first.
func affectedFilmWorksQuery(kind models.Kind, ids []string) (string, []any, error) {
	joinTable, column, ok := kind.JoinTable()
	if !ok {
		return "", nil, fmt.Errorf("kind %s has no join table", kind)
	}

	sb := database.NewSelectBuilder()
	sb.Select("fw.id", "fw.updated_at").Distinct()
	sb.From(models.KindFilmWork.Table() + " fw")
	sb.Join(joinTable+" j", "j.film_work_id = fw.id")
	sb.Where(sb.In("j."+column, sqlbuilder.Flatten(ids)...))
	sb.OrderBy("fw.updated_at", "fw.id").Asc()

	query, args := sb.Build()
	return query, args, nil
}

// aggregateQuery left-joins each film work with its participants and genres.
// A film with p participants and g genres yields max(p,1)*max(g,1) rows.
func aggregateQuery(ids []string) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select(
		"fw.id AS fw_id",
		"fw.title",
		"fw.description",
		"fw.rating",
		"pfw.role",
		"p.id AS person_id",
		"p.full_name",
		"g.name AS genre_name",
	)
	sb.From(models.KindFilmWork.Table() + " fw")
	sb.JoinWithOption(sqlbuilder.LeftJoin, models.Schema+".person_film_work pfw", "pfw.film_work_id = fw.id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, models.KindPerson.Table()+" p", "p.id = pfw.person_id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, models.Schema+".genre_film_work gfw", "gfw.film_work_id = fw.id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, models.KindGenre.Table()+" g", "g.id = gfw.genre_id")
	sb.Where(sb.In("fw.id", sqlbuilder.Flatten(ids)...))
	sb.OrderBy("fw.id", "pfw.created_at", "gfw.created_at").Asc()
	return sb.Build()
}

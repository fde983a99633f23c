package models

// PersonRef is a participant embedded in a film document.
type PersonRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Document is the denormalized film work written to the search index.
type Document struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Rating       *float64    `json:"rating"`
	Director     string      `json:"director"`
	ActorsNames  []string    `json:"actors_names"`
	WritersNames []string    `json:"writers_names"`
	Actors       []PersonRef `json:"actors"`
	Writers      []PersonRef `json:"writers"`
	Genre        []string    `json:"genre"`
}

// NewDocument returns an empty document whose lists serialize as [].
func NewDocument(id string) *Document {
	return &Document{
		ID:           id,
		ActorsNames:  []string{},
		WritersNames: []string{},
		Actors:       []PersonRef{},
		Writers:      []PersonRef{},
		Genre:        []string{},
	}
}

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Movie is a catalog entry. CreatedBy holds the owner's user ID; it is set
// once at creation and never changes.
//
// The IMDb and poster fields are all optional and independent of each
// other, so they are pointers: nil means "not set" and serializes as null.
type Movie struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ReleaseYear int    `json:"release_year"`
	Genre       string `json:"genre"`
	Director    string `json:"director"`
	CreatedBy   string `json:"-"`

	IMDbID      *string  `json:"imdb_id"`
	IMDbRank    *float64 `json:"imdb_rank"`
	Actors      *string  `json:"actors"` // comma-joined cast list
	AKA         *string  `json:"aka"`
	IMDbURL     *string  `json:"imdb_url"`
	IMDbIV      *string  `json:"imdb_iv"`
	PosterURL   *string  `json:"poster_url"`
	PosterImage *string  `json:"poster_image"` // URL returned by the blob store
	PhotoWidth  *int     `json:"photo_width"`
	PhotoHeight *int     `json:"photo_height"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MovieFields carries caller-supplied movie attributes for create and
// update. A nil field was not supplied. For the optional string fields an
// empty string clears the stored value.
type MovieFields struct {
	Title       *string
	Description *string
	ReleaseYear *int
	Genre       *string
	Director    *string

	IMDbID      *string
	IMDbRank    *float64
	Actors      *string
	AKA         *string
	IMDbURL     *string
	IMDbIV      *string
	PosterURL   *string
	PosterImage *string
	PhotoWidth  *int
	PhotoHeight *int
}

// Apply merges the supplied fields into m. Fields left nil are untouched.
func (f MovieFields) Apply(m *Movie) {
	if f.Title != nil {
		m.Title = *f.Title
	}
	if f.Description != nil {
		m.Description = *f.Description
	}
	if f.ReleaseYear != nil {
		m.ReleaseYear = *f.ReleaseYear
	}
	if f.Genre != nil {
		m.Genre = *f.Genre
	}
	if f.Director != nil {
		m.Director = *f.Director
	}

	applyOptional(&m.IMDbID, f.IMDbID)
	applyOptional(&m.Actors, f.Actors)
	applyOptional(&m.AKA, f.AKA)
	applyOptional(&m.IMDbURL, f.IMDbURL)
	applyOptional(&m.IMDbIV, f.IMDbIV)
	applyOptional(&m.PosterURL, f.PosterURL)
	applyOptional(&m.PosterImage, f.PosterImage)

	if f.IMDbRank != nil {
		v := *f.IMDbRank
		m.IMDbRank = &v
	}
	if f.PhotoWidth != nil {
		v := *f.PhotoWidth
		m.PhotoWidth = &v
	}
	if f.PhotoHeight != nil {
		v := *f.PhotoHeight
		m.PhotoHeight = &v
	}
}

func applyOptional(dst **string, src *string) {
	if src == nil {
		return
	}
	if *src == "" {
		*dst = nil
		return
	}
	v := *src
	*dst = &v
}

// MovieView is a movie as the API returns it: owner identity plus the
// derived rating aggregates.
type MovieView struct {
	*Movie
	Owner         PublicUser `json:"created_by"`
	AverageRating float64    `json:"average_rating"`
	RatingsCount  int        `json:"ratings_count"`
}

// MovieDetail is a MovieView with every rating attached.
type MovieDetail struct {
	MovieView
	Ratings []Rating `json:"ratings"`
}

// MoviePage is one page of a movie listing.
type MoviePage struct {
	Count    int         `json:"count"`
	Page     int         `json:"-"`
	PageSize int         `json:"-"`
	Results  []MovieView `json:"results"`
}

// HasNext reports whether another page follows this one.
func (p MoviePage) HasNext() bool {
	return p.Page*p.PageSize < p.Count
}

// HasPrevious reports whether this is not the first page.
func (p MoviePage) HasPrevious() bool {
	return p.Page > 1
}

// CastList is the actors field as clients send it: either a single
// comma-separated string or a JSON array of names. Either way it is stored
// as one comma-joined string.
type CastList string

func (c *CastList) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*c = CastList(JoinCast(names))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("actors must be a string or a list of strings")
	}
	*c = CastList(s)
	return nil
}

// JoinCast trims each name, drops blanks and joins the rest with ", ".
func JoinCast(names []string) string {
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			kept = append(kept, n)
		}
	}
	return strings.Join(kept, ", ")
}

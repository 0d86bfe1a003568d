// Package repository declares the storage contracts the services depend on.
// The sqlite subpackage is the production implementation; service tests use
// in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/movie-catalog/internal/model"
)

// MovieOrderings is the safelist of accepted ordering values. A leading
// hyphen means descending.
var MovieOrderings = []string{
	"created_at", "-created_at",
	"release_year", "-release_year",
	"title", "-title",
}

const DefaultMovieOrdering = "-created_at"

// ValidOrdering reports whether ordering is in MovieOrderings.
func ValidOrdering(ordering string) bool {
	for _, o := range MovieOrderings {
		if o == ordering {
			return true
		}
	}
	return false
}

type MovieListOptions struct {
	Search   string // case-insensitive substring across title, description, genre, director
	Ordering string // one of MovieOrderings; empty means DefaultMovieOrdering
	Limit    int
	Offset   int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpsertGitHubUser(ctx context.Context, user *model.User) error
}

// MovieRepository persists movies. UpdateMovie and DeleteMovie check that
// requester owns the movie inside the same transaction as the write.
type MovieRepository interface {
	CreateMovie(ctx context.Context, movie *model.Movie) error
	GetMovie(ctx context.Context, id string) (*model.Movie, error)
	ListMovies(ctx context.Context, opts MovieListOptions) ([]model.Movie, int, error)
	UpdateMovie(ctx context.Context, id string, fields model.MovieFields, requester string) (*model.Movie, error)
	DeleteMovie(ctx context.Context, id, requester string) error
}

// RatingRepository persists ratings.
//
// UpsertRating inserts or updates the rating for (rating.MovieID,
// rating.UserID) in one atomic statement and reports whether a new row was
// created. When commentSet is false an existing comment is preserved. Each
// write advances the movie's ratings version, which RatingAggregate
// reports alongside the values it belongs to.
type RatingRepository interface {
	UpsertRating(ctx context.Context, rating *model.Rating, commentSet bool) (bool, error)
	ListRatingsByMovie(ctx context.Context, movieID string) ([]model.Rating, error)
	ListRatingsByUser(ctx context.Context, userID string) ([]model.Rating, error)
	RatingAggregate(ctx context.Context, movieID string) (model.RatingAggregate, error)
}

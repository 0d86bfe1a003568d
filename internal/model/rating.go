package model

import "time"

const (
	MinScore = 1
	MaxScore = 5
)

// Rating is one user's score for one movie. There is at most one Rating
// per (MovieID, UserID) pair; the store enforces this with a unique index.
//
// Author and Username are filled in from the users table when ratings are
// read back; they are not stored on the rating row.
type Rating struct {
	ID        string     `json:"id"`
	MovieID   string     `json:"movie"`
	UserID    string     `json:"-"`
	Author    PublicUser `json:"user"`
	Username  string     `json:"username"`
	Score     int        `json:"score"`
	Comment   string     `json:"comment"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RatingAggregate holds the derived values for a movie.
//
// Version is the movie's ratings version when the values were computed. It
// grows with every rating write, so of two aggregates the one with the
// higher version is the more recent.
type RatingAggregate struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
	Version int64   `json:"version"`
}

// AverageOf returns the arithmetic mean of scores, or 0 for none.
func AverageOf(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/repository"
)

var _ repository.RatingRepository = (*DB)(nil)

// ratingSelect reads ratings together with the author's username.
const ratingSelect = `SELECT r.id, r.movie_id, r.user_id, u.username, r.score, r.comment,
	r.created_at, r.updated_at
	FROM ratings r JOIN users u ON u.id = r.user_id`

// UpsertRating creates or updates the caller's rating for a movie.
//
// HOW IT STAYS ATOMIC:
// The write is a single INSERT ... ON CONFLICT(movie_id, user_id) DO UPDATE
// statement, so two simultaneous submissions from the same user end up as
// one row (last write wins) instead of a unique-constraint error.
//
// To tell an insert from an update, a fresh ID is generated for the insert.
// On conflict the existing row keeps its ID, so comparing the ID that ends
// up in the row with the generated one answers "was this created?".
//
// When commentSet is false the stored comment is preserved on update.
//
// Every write also bumps the movie's ratings_version in the same
// transaction.
func (db *DB) UpsertRating(ctx context.Context, rating *model.Rating, commentSet bool) (bool, error) {
	var created bool

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		// Bumping the version doubles as the existence check.
		res, err := tx.ExecContext(ctx,
			`UPDATE movies SET ratings_version = ratings_version + 1 WHERE id = ?`, rating.MovieID)
		if err != nil {
			return fmt.Errorf("sqlite: bumping ratings version of movie %s: %w", rating.MovieID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: bumping ratings version of movie %s: %w", rating.MovieID, err)
		}
		if n == 0 {
			return apperror.NotFound("movie", rating.MovieID)
		}

		newID := xid.New().String()
		now := time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ratings (id, movie_id, user_id, score, comment, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(movie_id, user_id) DO UPDATE SET
			     score = excluded.score,
			     comment = CASE WHEN ? THEN excluded.comment ELSE ratings.comment END,
			     updated_at = excluded.updated_at`,
			newID,
			rating.MovieID,
			rating.UserID,
			rating.Score,
			rating.Comment,
			now,
			now,
			commentSet,
		)
		if err != nil {
			switch {
			case isForeignKeyViolation(err):
				return apperror.NotFound("user", rating.UserID)
			case isCheckViolation(err):
				return apperror.ValidationFailed("score",
					fmt.Sprintf("score must be between %d and %d", model.MinScore, model.MaxScore))
			}
			return fmt.Errorf("sqlite: upserting rating: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			ratingSelect+` WHERE r.movie_id = ? AND r.user_id = ?`,
			rating.MovieID, rating.UserID)
		stored, err := scanRating(row)
		if err != nil {
			return fmt.Errorf("sqlite: reading back rating: %w", err)
		}

		created = stored.ID == newID
		*rating = *stored
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// ListRatingsByMovie returns every rating of a movie, newest first.
// An unknown movie yields an empty slice; callers that need a 404 check
// the movie themselves.
func (db *DB) ListRatingsByMovie(ctx context.Context, movieID string) ([]model.Rating, error) {
	return db.listRatings(ctx, `WHERE r.movie_id = ?`, movieID)
}

// ListRatingsByUser returns every rating a user has given, newest first.
func (db *DB) ListRatingsByUser(ctx context.Context, userID string) ([]model.Rating, error) {
	return db.listRatings(ctx, `WHERE r.user_id = ?`, userID)
}

func (db *DB) listRatings(ctx context.Context, where string, arg string) ([]model.Rating, error) {
	rows, err := db.conn.QueryContext(ctx,
		ratingSelect+` `+where+` ORDER BY r.created_at DESC, r.id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ratings: %w", err)
	}
	defer rows.Close()

	ratings := []model.Rating{}
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning rating row: %w", err)
		}
		ratings = append(ratings, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return ratings, nil
}

// RatingAggregate computes the average score and rating count of a movie
// straight from the ratings table, together with the movie's ratings
// version. One statement reads all three, so they always belong together.
// No ratings gives {0, 0}; an unknown movie gives the zero aggregate.
func (db *DB) RatingAggregate(ctx context.Context, movieID string) (model.RatingAggregate, error) {
	var agg model.RatingAggregate
	err := db.conn.QueryRowContext(ctx,
		`SELECT m.ratings_version,
		        COALESCE((SELECT AVG(score) FROM ratings WHERE movie_id = m.id), 0),
		        (SELECT COUNT(*) FROM ratings WHERE movie_id = m.id)
		 FROM movies m WHERE m.id = ?`,
		movieID,
	).Scan(&agg.Version, &agg.Average, &agg.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RatingAggregate{}, nil
		}
		return model.RatingAggregate{}, fmt.Errorf("sqlite: aggregating ratings of movie %s: %w", movieID, err)
	}
	return agg, nil
}

func scanRating(row rowScanner) (*model.Rating, error) {
	var r model.Rating
	if err := row.Scan(
		&r.ID,
		&r.MovieID,
		&r.UserID,
		&r.Username,
		&r.Score,
		&r.Comment,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Author = model.PublicUser{ID: r.UserID, Username: r.Username}
	return &r, nil
}

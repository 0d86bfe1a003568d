package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/repository"
)

var _ repository.MovieRepository = (*DB)(nil)

const movieColumns = `id, title, description, release_year, genre, director, created_by,
	imdb_id, imdb_rank, actors, aka, imdb_url, imdb_iv, poster_url, poster_image,
	photo_width, photo_height, created_at, updated_at`

// CreateMovie inserts a new movie. The caller sets CreatedBy; ID and
// timestamps are assigned here and written back into movie.
func (db *DB) CreateMovie(ctx context.Context, movie *model.Movie) error {
	now := time.Now().UTC()
	movie.ID = xid.New().String()
	movie.CreatedAt = now
	movie.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO movies (`+movieColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		movie.ID,
		movie.Title,
		movie.Description,
		movie.ReleaseYear,
		movie.Genre,
		movie.Director,
		movie.CreatedBy,
		movie.IMDbID,
		movie.IMDbRank,
		movie.Actors,
		movie.AKA,
		movie.IMDbURL,
		movie.IMDbIV,
		movie.PosterURL,
		movie.PosterImage,
		movie.PhotoWidth,
		movie.PhotoHeight,
		movie.CreatedAt,
		movie.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", movie.CreatedBy)
		}
		return fmt.Errorf("sqlite: creating movie: %w", err)
	}

	return nil
}

// GetMovie retrieves a single movie by its ID.
// Returns apperror.ErrNotFound if the movie doesn't exist.
func (db *DB) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	return getMovie(ctx, db.conn, id)
}

// queryer is the subset of *sql.DB and *sql.Tx the helpers need.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMovie(ctx context.Context, q queryer, id string) (*model.Movie, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = ?`, id)

	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("movie", id)
		}
		return nil, fmt.Errorf("sqlite: getting movie %s: %w", id, err)
	}
	return m, nil
}

// ListMovies returns one page of movies and the total number of matches.
//
// The search term is matched case-insensitively as a substring of title,
// description, genre or director. LIKE wildcards in the term are escaped so
// "100%" matches literally.
//
// ORDER BY cannot take a placeholder, so the ordering is checked against
// repository.MovieOrderings and mapped to a fixed clause. Ties fall back to
// id, which is time-ordered (xid), so pagination is stable.
func (db *DB) ListMovies(ctx context.Context, opts repository.MovieListOptions) ([]model.Movie, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	ordering := opts.Ordering
	if ordering == "" {
		ordering = repository.DefaultMovieOrdering
	}
	if !repository.ValidOrdering(ordering) {
		return nil, 0, apperror.ValidationFailed("ordering",
			fmt.Sprintf("invalid ordering %q", opts.Ordering))
	}
	column := strings.TrimPrefix(ordering, "-")
	direction := "ASC"
	if strings.HasPrefix(ordering, "-") {
		direction = "DESC"
	}
	orderBy := fmt.Sprintf("%s %s, id %s", column, direction, direction)

	where := ""
	var args []any
	if term := strings.TrimSpace(opts.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		where = `WHERE unicode_lower(title) LIKE ? ESCAPE '\'
		            OR unicode_lower(description) LIKE ? ESCAPE '\'
		            OR unicode_lower(genre) LIKE ? ESCAPE '\'
		            OR unicode_lower(director) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern, pattern)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movies `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting movies: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+movieColumns+` FROM movies `+where+`
		 ORDER BY `+orderBy+`
		 LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing movies: %w", err)
	}
	defer rows.Close()

	movies := make([]model.Movie, 0, limit)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning movie row: %w", err)
		}
		movies = append(movies, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating movies: %w", err)
	}

	return movies, total, nil
}

// UpdateMovie merges fields into the stored movie on behalf of requester.
//
// The read, the ownership check and the write share one transaction, so a
// concurrent delete or update can't slip in between the check and the write.
func (db *DB) UpdateMovie(ctx context.Context, id string, fields model.MovieFields, requester string) (*model.Movie, error) {
	var updated *model.Movie

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMovie(ctx, tx, id)
		if err != nil {
			return err
		}
		if m.CreatedBy != requester {
			return apperror.Forbidden("only the creator of a movie can modify it")
		}

		fields.Apply(m)
		m.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE movies SET
			     title = ?, description = ?, release_year = ?, genre = ?, director = ?,
			     imdb_id = ?, imdb_rank = ?, actors = ?, aka = ?, imdb_url = ?, imdb_iv = ?,
			     poster_url = ?, poster_image = ?, photo_width = ?, photo_height = ?,
			     updated_at = ?
			 WHERE id = ?`,
			m.Title, m.Description, m.ReleaseYear, m.Genre, m.Director,
			m.IMDbID, m.IMDbRank, m.Actors, m.AKA, m.IMDbURL, m.IMDbIV,
			m.PosterURL, m.PosterImage, m.PhotoWidth, m.PhotoHeight,
			m.UpdatedAt,
			m.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating movie %s: %w", id, err)
		}

		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteMovie removes a movie and every rating that references it.
//
// The ratings are deleted explicitly rather than left to ON DELETE CASCADE,
// and both deletes run in the same transaction as the ownership check: if
// any step fails nothing is removed.
func (db *DB) DeleteMovie(ctx context.Context, id, requester string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT created_by FROM movies WHERE id = ?`, id,
		).Scan(&owner)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("movie", id)
			}
			return fmt.Errorf("sqlite: looking up movie %s: %w", id, err)
		}
		if owner != requester {
			return apperror.Forbidden("only the creator of a movie can delete it")
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ratings WHERE movie_id = ?`, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting ratings of movie %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM movies WHERE id = ?`, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting movie %s: %w", id, err)
		}

		return nil
	})
}

func scanMovie(row rowScanner) (*model.Movie, error) {
	var m model.Movie
	if err := row.Scan(
		&m.ID,
		&m.Title,
		&m.Description,
		&m.ReleaseYear,
		&m.Genre,
		&m.Director,
		&m.CreatedBy,
		&m.IMDbID,
		&m.IMDbRank,
		&m.Actors,
		&m.AKA,
		&m.IMDbURL,
		&m.IMDbIV,
		&m.PosterURL,
		&m.PosterImage,
		&m.PhotoWidth,
		&m.PhotoHeight,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

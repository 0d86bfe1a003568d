package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"

	// Registered for image.DecodeConfig, which only recognises formats
	// whose decoder has been imported.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/blob"
	"github.com/sakif/movie-catalog/internal/cache"
	"github.com/sakif/movie-catalog/internal/metrics"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/repository"
	"github.com/sakif/movie-catalog/internal/validation"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// DefaultMaxUploadBytes caps a poster upload at 5 MiB.
	DefaultMaxUploadBytes = 5 << 20

	posterFolder = "posters"
)

// MovieInput is the movie form for create, replace and partial update.
// A nil field was not supplied by the client.
//
// The tags check values that are present; which fields are required
// depends on the operation and is checked in code. The URL fields are
// checked in code too: "" clears them, and the validator's omitempty does
// not skip a pointer to "".
type MovieInput struct {
	Title       *string         `json:"title" validate:"omitnil,max=255"`
	Description *string         `json:"description"`
	ReleaseYear *int            `json:"release_year" validate:"omitnil,gte=1800,lte=3000"`
	Genre       *string         `json:"genre" validate:"omitnil,max=100"`
	Director    *string         `json:"director" validate:"omitnil,max=255"`
	IMDbID      *string         `json:"imdb_id" validate:"omitnil,max=20"`
	IMDbRank    *float64        `json:"imdb_rank" validate:"omitnil,gte=0,lte=10"`
	Actors      *model.CastList `json:"actors"`
	AKA         *string         `json:"aka" validate:"omitnil,max=255"`
	IMDbURL     *string         `json:"imdb_url" validate:"omitnil,max=500"`
	IMDbIV      *string         `json:"imdb_iv" validate:"omitnil,max=500"`
	PosterURL   *string         `json:"poster_url" validate:"omitnil,max=500"`
	PhotoWidth  *int            `json:"photo_width" validate:"omitnil,gte=0"`
	PhotoHeight *int            `json:"photo_height" validate:"omitnil,gte=0"`
}

// Upload is a poster image as received from the client. Body is read at
// most once.
type Upload struct {
	Filename string
	Body     io.Reader
}

// ListParams selects one page of the movie listing.
type ListParams struct {
	Search   string
	Ordering string
	Page     int // 1-based; 0 means the first page
	PageSize int // 0 means DefaultPageSize; values above MaxPageSize are clamped
}

// RatingInput is the body of a rating submission. Comment is nil when the
// client omitted it, which keeps any stored comment.
type RatingInput struct {
	Score   *int    `json:"score"`
	Comment *string `json:"comment"`
}

// CatalogService owns the movie and rating rules.
//
// DEPENDENCIES:
//   - movies, ratings, users → repositories (ownership checks live in the
//     movie store so they share a transaction with the write)
//   - posters                → where uploaded poster images go
//   - aggregates             → versioned cache of average/count per movie
//
// AUTHORIZATION:
// Reads are open to anonymous callers. Every write takes the requester's
// user ID and fails with AuthenticationRequired when it is empty.
type CatalogService struct {
	movies     repository.MovieRepository
	ratings    repository.RatingRepository
	users      repository.UserRepository
	posters    blob.Store
	aggregates cache.AggregateCache
	logger     *slog.Logger

	maxUploadBytes int64
}

// NewCatalogService wires the service. A nil aggregates cache disables
// caching; maxUploadBytes <= 0 selects DefaultMaxUploadBytes.
func NewCatalogService(
	movies repository.MovieRepository,
	ratings repository.RatingRepository,
	users repository.UserRepository,
	posters blob.Store,
	aggregates cache.AggregateCache,
	maxUploadBytes int64,
	logger *slog.Logger,
) *CatalogService {
	if aggregates == nil {
		aggregates = cache.Noop{}
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &CatalogService{
		movies:         movies,
		ratings:        ratings,
		users:          users,
		posters:        posters,
		aggregates:     aggregates,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// =========================================================================
// MOVIES
// =========================================================================

// CreateMovie validates the input, stores the poster if one was uploaded
// and saves the movie owned by requester.
//
// Nothing is written until every check has passed. If saving the movie
// fails after the poster was stored, the poster is removed again.
func (s *CatalogService) CreateMovie(ctx context.Context, in MovieInput, upload *Upload, requester string) (*model.MovieView, error) {
	if requester == "" {
		return nil, apperror.AuthenticationRequired("")
	}

	fields, err := s.checkMovieInput(in, true)
	if err != nil {
		return nil, err
	}

	img, err := s.readPoster(upload)
	if err != nil {
		return nil, err
	}

	movie := &model.Movie{CreatedBy: requester}
	fields.Apply(movie)

	if img != nil {
		url, err := s.storePoster(ctx, img)
		if err != nil {
			return nil, err
		}
		img.fill(movie, url, in)
	}

	if err := s.movies.CreateMovie(ctx, movie); err != nil {
		if movie.PosterImage != nil {
			s.removePoster(ctx, *movie.PosterImage)
		}
		return nil, err
	}

	metrics.MoviesCreated.Inc()
	s.logger.Info("movie created",
		slog.String("movieID", movie.ID),
		slog.String("title", movie.Title),
		slog.String("userID", requester),
	)

	// a brand-new movie has no ratings
	return &model.MovieView{Movie: movie, Owner: s.owner(ctx, requester)}, nil
}

// GetMovieDetail returns a movie with its aggregates and every rating,
// newest first.
func (s *CatalogService) GetMovieDetail(ctx context.Context, id string) (*model.MovieDetail, error) {
	movie, err := s.movies.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}

	ratings, err := s.ratings.ListRatingsByMovie(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing ratings for %s: %w", id, err)
	}

	// The ratings are all here already, so the aggregate comes from them
	// rather than from the cache.
	scores := make([]int, len(ratings))
	for i, r := range ratings {
		scores[i] = r.Score
	}

	return &model.MovieDetail{
		MovieView: model.MovieView{
			Movie:         movie,
			Owner:         s.owner(ctx, movie.CreatedBy),
			AverageRating: model.AverageOf(scores),
			RatingsCount:  len(ratings),
		},
		Ratings: ratings,
	}, nil
}

// ListMovies returns one page of movies with their aggregates.
//
// PAGINATION:
// page and page_size become LIMIT/OFFSET. Asking for a page past the end
// is NotFound, except page 1 which is always valid (an empty catalog has
// one empty page).
func (s *CatalogService) ListMovies(ctx context.Context, p ListParams) (*model.MoviePage, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 1 {
		return nil, apperror.ValidationFailed("page", "page must be a positive integer")
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}

	movies, total, err := s.movies.ListMovies(ctx, repository.MovieListOptions{
		Search:   strings.TrimSpace(p.Search),
		Ordering: p.Ordering,
		Limit:    p.PageSize,
		Offset:   (p.Page - 1) * p.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if p.Page > 1 && len(movies) == 0 {
		return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "invalid page"}
	}

	// owners repeat across a page; look each one up once
	owners := make(map[string]model.PublicUser)
	results := make([]model.MovieView, len(movies))
	for i := range movies {
		m := &movies[i]
		owner, ok := owners[m.CreatedBy]
		if !ok {
			owner = s.owner(ctx, m.CreatedBy)
			owners[m.CreatedBy] = owner
		}
		agg, err := s.aggregate(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		results[i] = model.MovieView{
			Movie:         m,
			Owner:         owner,
			AverageRating: agg.Average,
			RatingsCount:  agg.Count,
		}
	}

	return &model.MoviePage{
		Count:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		Results:  results,
	}, nil
}

// ReplaceMovie is the PUT form of an update: title and release_year must
// be present. Fields that are left out keep their stored values.
func (s *CatalogService) ReplaceMovie(ctx context.Context, id string, in MovieInput, upload *Upload, requester string) (*model.MovieView, error) {
	return s.updateMovie(ctx, id, in, true, upload, requester)
}

// UpdateMovie is the PATCH form: only supplied fields change.
func (s *CatalogService) UpdateMovie(ctx context.Context, id string, in MovieInput, upload *Upload, requester string) (*model.MovieView, error) {
	return s.updateMovie(ctx, id, in, false, upload, requester)
}

func (s *CatalogService) updateMovie(ctx context.Context, id string, in MovieInput, full bool, upload *Upload, requester string) (*model.MovieView, error) {
	if requester == "" {
		return nil, apperror.AuthenticationRequired("")
	}

	fields, err := s.checkMovieInput(in, full)
	if err != nil {
		return nil, err
	}
	img, err := s.readPoster(upload)
	if err != nil {
		return nil, err
	}

	// Check existence and ownership before touching the blob store. The
	// store checks ownership again inside its transaction.
	current, err := s.movies.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.CreatedBy != requester {
		return nil, apperror.Forbidden("only the creator of a movie can modify it")
	}

	var newPoster string
	if img != nil {
		newPoster, err = s.storePoster(ctx, img)
		if err != nil {
			return nil, err
		}
		fields.PosterImage = &newPoster
		if in.PhotoWidth == nil {
			fields.PhotoWidth = &img.width
		}
		if in.PhotoHeight == nil {
			fields.PhotoHeight = &img.height
		}
	}

	movie, err := s.movies.UpdateMovie(ctx, id, fields, requester)
	if err != nil {
		if newPoster != "" {
			s.removePoster(ctx, newPoster)
		}
		return nil, err
	}

	if newPoster != "" && current.PosterImage != nil {
		s.removePoster(ctx, *current.PosterImage)
	}

	s.logger.Info("movie updated",
		slog.String("movieID", movie.ID),
		slog.String("userID", requester),
	)

	agg, err := s.aggregate(ctx, movie.ID)
	if err != nil {
		return nil, err
	}
	return &model.MovieView{
		Movie:         movie,
		Owner:         s.owner(ctx, movie.CreatedBy),
		AverageRating: agg.Average,
		RatingsCount:  agg.Count,
	}, nil
}

// DeleteMovie removes a movie and all its ratings. Only the creator may
// delete it.
func (s *CatalogService) DeleteMovie(ctx context.Context, id, requester string) error {
	if requester == "" {
		return apperror.AuthenticationRequired("")
	}

	movie, err := s.movies.GetMovie(ctx, id)
	if err != nil {
		return err
	}

	if err := s.movies.DeleteMovie(ctx, id, requester); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	if movie.PosterImage != nil {
		s.removePoster(ctx, *movie.PosterImage)
	}

	metrics.MoviesDeleted.Inc()
	s.logger.Info("movie deleted",
		slog.String("movieID", id),
		slog.String("userID", requester),
	)
	return nil
}

// checkMovieInput validates the input and converts it to store fields.
// With full set, title and release_year are required.
func (s *CatalogService) checkMovieInput(in MovieInput, full bool) (model.MovieFields, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		in.Title = &t
	}

	if full {
		if in.Title == nil || *in.Title == "" {
			return model.MovieFields{}, apperror.ValidationFailed("title", "title is required")
		}
		if in.ReleaseYear == nil {
			return model.MovieFields{}, apperror.ValidationFailed("release_year", "release_year is required")
		}
	} else if in.Title != nil && *in.Title == "" {
		return model.MovieFields{}, apperror.ValidationFailed("title", "title may not be blank")
	}

	if err := validation.ValidateStruct(&in); err != nil {
		return model.MovieFields{}, err
	}
	for _, u := range []struct {
		field string
		value *string
	}{
		{"imdb_url", in.IMDbURL},
		{"imdb_iv", in.IMDbIV},
		{"poster_url", in.PosterURL},
	} {
		if err := validation.OptionalHTTPURL(u.field, u.value); err != nil {
			return model.MovieFields{}, err
		}
	}

	fields := model.MovieFields{
		Title:       in.Title,
		Description: in.Description,
		ReleaseYear: in.ReleaseYear,
		Genre:       in.Genre,
		Director:    in.Director,
		IMDbID:      in.IMDbID,
		IMDbRank:    in.IMDbRank,
		AKA:         in.AKA,
		IMDbURL:     in.IMDbURL,
		IMDbIV:      in.IMDbIV,
		PosterURL:   in.PosterURL,
		PhotoWidth:  in.PhotoWidth,
		PhotoHeight: in.PhotoHeight,
	}
	if in.Actors != nil {
		actors := string(*in.Actors)
		fields.Actors = &actors
	}
	return fields, nil
}

// =========================================================================
// POSTERS
// =========================================================================

// poster is an upload that has been read and identified as an image.
type poster struct {
	data          []byte
	contentType   string
	width, height int
}

// fill sets the poster fields on a new movie. Dimensions the client sent
// explicitly win over the measured ones.
func (p *poster) fill(m *model.Movie, url string, in MovieInput) {
	m.PosterImage = &url
	if in.PhotoWidth == nil {
		w := p.width
		m.PhotoWidth = &w
	}
	if in.PhotoHeight == nil {
		h := p.height
		m.PhotoHeight = &h
	}
}

// readPoster reads and identifies an upload. It returns nil, nil when no
// file was sent.
//
// The format is taken from the file contents, not from the filename or the
// declared content type: image.DecodeConfig reads only the header, which
// also yields the pixel dimensions.
func (s *CatalogService) readPoster(upload *Upload) (*poster, error) {
	if upload == nil || upload.Body == nil {
		return nil, nil
	}

	// read one byte past the limit to detect oversized files
	data, err := io.ReadAll(io.LimitReader(upload.Body, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("service/catalog: reading upload: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, apperror.ValidationFailed("poster_image",
			fmt.Sprintf("poster_image must be at most %d MiB", s.maxUploadBytes>>20))
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("poster_image", "the submitted file is empty")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("rejected poster upload",
			slog.String("filename", upload.Filename),
			slog.String("error", err.Error()),
		)
		return nil, apperror.ValidationFailed("poster_image",
			"upload a valid image: the file you uploaded was either not an image or a corrupted image")
	}

	return &poster{
		data:        data,
		contentType: "image/" + format,
		width:       cfg.Width,
		height:      cfg.Height,
	}, nil
}

func (s *CatalogService) storePoster(ctx context.Context, p *poster) (string, error) {
	url, err := s.posters.Put(ctx, posterFolder, p.contentType, bytes.NewReader(p.data))
	if err != nil {
		return "", fmt.Errorf("service/catalog: storing poster: %w", err)
	}
	return url, nil
}

// removePoster deletes a poster that is no longer referenced. Failures
// leave an orphaned file behind, which is logged but not returned.
func (s *CatalogService) removePoster(ctx context.Context, url string) {
	if err := s.posters.Delete(ctx, url); err != nil && !errors.Is(err, blob.ErrNotOwned) {
		s.logger.Warn("failed to delete poster",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}
}

// =========================================================================
// RATINGS
// =========================================================================

// RateMovie creates or replaces requester's rating for a movie and reports
// whether a new rating was created.
//
// One user has at most one rating per movie. The store enforces this in a
// single upsert statement, so two concurrent first submissions still end
// up as one row, with exactly one of them reported as created.
func (s *CatalogService) RateMovie(ctx context.Context, movieID, requester string, in RatingInput) (*model.Rating, bool, error) {
	if requester == "" {
		return nil, false, apperror.AuthenticationRequired("")
	}

	if in.Score == nil {
		metrics.RecordRatingUpsert(metrics.OutcomeRejected)
		return nil, false, apperror.ValidationFailed("score", "score is required")
	}
	if *in.Score < model.MinScore || *in.Score > model.MaxScore {
		metrics.RecordRatingUpsert(metrics.OutcomeRejected)
		return nil, false, apperror.ValidationFailed("score",
			fmt.Sprintf("score must be between %d and %d", model.MinScore, model.MaxScore))
	}

	rating := &model.Rating{
		MovieID: movieID,
		UserID:  requester,
		Score:   *in.Score,
	}
	if in.Comment != nil {
		rating.Comment = *in.Comment
	}

	created, err := s.ratings.UpsertRating(ctx, rating, in.Comment != nil)
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			metrics.RecordRatingUpsert(metrics.OutcomeRejected)
		}
		return nil, false, err
	}

	s.refreshAggregate(ctx, movieID)

	outcome := metrics.OutcomeUpdated
	if created {
		outcome = metrics.OutcomeCreated
	}
	metrics.RecordRatingUpsert(outcome)

	s.logger.Info("rating upserted",
		slog.String("movieID", movieID),
		slog.String("userID", requester),
		slog.Int("score", rating.Score),
		slog.String("outcome", outcome),
	)

	return rating, created, nil
}

// ListMovieRatings returns a movie's ratings, newest first.
func (s *CatalogService) ListMovieRatings(ctx context.Context, movieID string) ([]model.Rating, error) {
	if _, err := s.movies.GetMovie(ctx, movieID); err != nil {
		return nil, err
	}
	return s.ratings.ListRatingsByMovie(ctx, movieID)
}

// ListUserRatings returns every rating a user has given, newest first.
func (s *CatalogService) ListUserRatings(ctx context.Context, userID string) ([]model.Rating, error) {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.ratings.ListRatingsByUser(ctx, userID)
}

// =========================================================================
// DERIVED VALUES
// =========================================================================

// aggregate returns the average and count for a movie, reading through the
// cache. The cache is an optimisation only: a failing cache falls back to
// the store. A failing store is an error, since reporting "no ratings" for
// a rated movie would be wrong.
//
// CACHE CONSISTENCY:
// Every aggregate carries the movie's ratings version, which the store
// bumps in the same transaction as each rating write. The cache refuses to
// replace an entry with one of a lower version, so a reader that computed
// its value before a rating landed can't overwrite the writer's newer one.
func (s *CatalogService) aggregate(ctx context.Context, movieID string) (model.RatingAggregate, error) {
	agg, ok, err := s.aggregates.Get(ctx, movieID)
	switch {
	case err != nil:
		metrics.RecordCacheLookup("error")
		s.logger.Warn("aggregate cache read failed",
			slog.String("movieID", movieID),
			slog.String("error", err.Error()),
		)
	case ok:
		metrics.RecordCacheLookup("hit")
		return agg, nil
	default:
		metrics.RecordCacheLookup("miss")
	}

	agg, err = s.ratings.RatingAggregate(ctx, movieID)
	if err != nil {
		return model.RatingAggregate{}, fmt.Errorf("service/catalog: aggregating ratings of %s: %w", movieID, err)
	}

	if err := s.aggregates.Set(ctx, movieID, agg); err != nil {
		s.logger.Warn("aggregate cache write failed",
			slog.String("movieID", movieID),
			slog.String("error", err.Error()),
		)
	}
	return agg, nil
}

// refreshAggregate stores the aggregate as it stands after a rating write.
// If that fails the entry is dropped instead, so readers recompute it.
func (s *CatalogService) refreshAggregate(ctx context.Context, movieID string) {
	agg, err := s.ratings.RatingAggregate(ctx, movieID)
	if err == nil {
		err = s.aggregates.Set(ctx, movieID, agg)
	}
	if err != nil {
		s.logger.Warn("aggregate cache refresh failed",
			slog.String("movieID", movieID),
			slog.String("error", err.Error()),
		)
		s.invalidate(ctx, movieID)
	}
}

func (s *CatalogService) invalidate(ctx context.Context, movieID string) {
	if err := s.aggregates.Invalidate(ctx, movieID); err != nil {
		s.logger.Warn("aggregate cache invalidation failed",
			slog.String("movieID", movieID),
			slog.String("error", err.Error()),
		)
	}
}

// owner resolves a user ID to its public identity. A lookup failure falls
// back to the bare ID so one bad row does not break a listing.
func (s *CatalogService) owner(ctx context.Context, userID string) model.PublicUser {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("failed to look up movie owner",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return model.PublicUser{ID: userID}
	}
	return user.Public()
}

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory repositories. They implement just enough of the
// sqlite semantics (not-found, ownership, one rating per user and movie)
// for the service rules to be tested without a database.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	// set to a non-nil error to simulate a database failure
	upsertErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) add(username string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &model.User{Username: username, Email: username + "@example.com"}
	f.insert(u)
	return u
}

func (f *fakeUserRepo) insert(u *model.User) {
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	f.users[u.ID] = &copied
}

func (f *fakeUserRepo) findByUsername(username string) *model.User {
	for _, u := range f.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findByUsername(user.Username) != nil {
		return apperror.Conflict("user", user.Username)
	}
	f.insert(user)
	return nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.findByUsername(username)
	if u == nil {
		return nil, apperror.NotFound("user", username)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}

	for _, existing := range f.users {
		if existing.GitHubID != nil && *existing.GitHubID == *user.GitHubID {
			if other := f.findByUsername(user.Username); other != nil && other != existing {
				return apperror.Conflict("user", user.Username)
			}
			existing.Username = user.Username
			existing.Email = user.Email
			*user = *existing
			return nil
		}
	}

	if f.findByUsername(user.Username) != nil {
		return apperror.Conflict("user", user.Username)
	}
	f.insert(user)
	return nil
}

type fakeMovieRepo struct {
	mu     sync.Mutex
	movies map[string]*model.Movie
	nextID int
	// the options of the last ListMovies call
	lastList repository.MovieListOptions
}

func newFakeMovieRepo() *fakeMovieRepo {
	return &fakeMovieRepo{movies: make(map[string]*model.Movie)}
}

func (f *fakeMovieRepo) CreateMovie(ctx context.Context, movie *model.Movie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	movie.ID = fmt.Sprintf("movie-%d", f.nextID)
	movie.CreatedAt = time.Now().Add(time.Duration(f.nextID) * time.Millisecond)
	movie.UpdatedAt = movie.CreatedAt
	copied := *movie
	f.movies[movie.ID] = &copied
	return nil
}

func (f *fakeMovieRepo) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[id]
	if !ok {
		return nil, apperror.NotFound("movie", id)
	}
	copied := *m
	return &copied, nil
}

// ListMovies honours search, limit and offset; results are newest first.
func (f *fakeMovieRepo) ListMovies(ctx context.Context, opts repository.MovieListOptions) ([]model.Movie, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = opts

	var all []model.Movie
	for _, m := range f.movies {
		if opts.Search == "" || strings.Contains(strings.ToLower(m.Title), strings.ToLower(opts.Search)) {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if opts.Offset >= total {
		return []model.Movie{}, total, nil
	}
	end := min(opts.Offset+opts.Limit, total)
	return all[opts.Offset:end], total, nil
}

func (f *fakeMovieRepo) UpdateMovie(ctx context.Context, id string, fields model.MovieFields, requester string) (*model.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[id]
	if !ok {
		return nil, apperror.NotFound("movie", id)
	}
	if m.CreatedBy != requester {
		return nil, apperror.Forbidden("only the creator of a movie can modify it")
	}
	fields.Apply(m)
	m.UpdatedAt = time.Now()
	copied := *m
	return &copied, nil
}

func (f *fakeMovieRepo) DeleteMovie(ctx context.Context, id, requester string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[id]
	if !ok {
		return apperror.NotFound("movie", id)
	}
	if m.CreatedBy != requester {
		return apperror.Forbidden("only the creator of a movie can delete it")
	}
	delete(f.movies, id)
	return nil
}

type fakeRatingRepo struct {
	mu       sync.Mutex
	users    *fakeUserRepo
	movies   *fakeMovieRepo
	ratings  map[string]*model.Rating // keyed by movieID + "|" + userID
	nextID   int
	versions map[string]int64 // ratings version per movie
	// counts RatingAggregate calls so cache hits can be observed
	aggregateCalls int
	// set to a non-nil error to simulate a failing aggregate query
	aggregateErr error
	// runs once, after the next aggregate has been computed and before it is
	// returned, to interleave a write with a reader
	afterAggregate func()
}

func newFakeRatingRepo(users *fakeUserRepo, movies *fakeMovieRepo) *fakeRatingRepo {
	return &fakeRatingRepo{
		users:    users,
		movies:   movies,
		ratings:  make(map[string]*model.Rating),
		versions: make(map[string]int64),
	}
}

func (f *fakeRatingRepo) UpsertRating(ctx context.Context, rating *model.Rating, commentSet bool) (bool, error) {
	if _, err := f.movies.GetMovie(ctx, rating.MovieID); err != nil {
		return false, err
	}
	user, err := f.users.GetUserByID(ctx, rating.UserID)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.versions[rating.MovieID]++
	key := rating.MovieID + "|" + rating.UserID
	now := time.Now()
	existing, ok := f.ratings[key]
	if ok {
		existing.Score = rating.Score
		if commentSet {
			existing.Comment = rating.Comment
		}
		existing.UpdatedAt = now
		*rating = *existing
		return false, nil
	}

	f.nextID++
	rating.ID = fmt.Sprintf("rating-%d", f.nextID)
	rating.Author = user.Public()
	rating.Username = user.Username
	rating.CreatedAt = now.Add(time.Duration(f.nextID) * time.Millisecond)
	rating.UpdatedAt = rating.CreatedAt
	copied := *rating
	f.ratings[key] = &copied
	return true, nil
}

func (f *fakeRatingRepo) list(keep func(*model.Rating) bool) []model.Rating {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Rating{}
	for _, r := range f.ratings {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeRatingRepo) ListRatingsByMovie(ctx context.Context, movieID string) ([]model.Rating, error) {
	return f.list(func(r *model.Rating) bool { return r.MovieID == movieID }), nil
}

func (f *fakeRatingRepo) ListRatingsByUser(ctx context.Context, userID string) ([]model.Rating, error) {
	return f.list(func(r *model.Rating) bool { return r.UserID == userID }), nil
}

func (f *fakeRatingRepo) RatingAggregate(ctx context.Context, movieID string) (model.RatingAggregate, error) {
	f.mu.Lock()
	f.aggregateCalls++
	if f.aggregateErr != nil {
		err := f.aggregateErr
		f.mu.Unlock()
		return model.RatingAggregate{}, err
	}
	var scores []int
	for _, r := range f.ratings {
		if r.MovieID == movieID {
			scores = append(scores, r.Score)
		}
	}
	agg := model.RatingAggregate{
		Average: model.AverageOf(scores),
		Count:   len(scores),
		Version: f.versions[movieID],
	}
	hook := f.afterAggregate
	f.afterAggregate = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return agg, nil
}

// fakeCache is an in-memory cache.AggregateCache with the same version
// rule as the Redis one.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.RatingAggregate
	getErr  error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]model.RatingAggregate)}
}

func (c *fakeCache) Get(ctx context.Context, movieID string) (model.RatingAggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return model.RatingAggregate{}, false, c.getErr
	}
	agg, ok := c.entries[movieID]
	return agg, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, movieID string, agg model.RatingAggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if cur, ok := c.entries[movieID]; ok && cur.Version > agg.Version {
		return nil
	}
	c.entries[movieID] = agg
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, movieID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, movieID)
	return nil
}

func (c *fakeCache) has(movieID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[movieID]
	return ok
}

// fakeBlobStore records what was stored and deleted.
type fakeBlobStore struct {
	mu      sync.Mutex
	stored  map[string][]byte
	deleted []string
	nextID  int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{stored: make(map[string][]byte)}
}

func (b *fakeBlobStore) Put(ctx context.Context, folder, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	url := fmt.Sprintf("/media/%s/blob-%d", folder, b.nextID)
	b.stored[url] = data
	return url, nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stored, url)
	b.deleted = append(b.deleted, url)
	return nil
}

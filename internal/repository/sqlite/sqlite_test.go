package sqlite

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/sakif/movie-catalog/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives every test a fresh, isolated database that disappears
// when the connection closes. The pool is capped at one connection, so the
// whole test talks to the same in-memory database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash-" + username,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func createTestMovie(t *testing.T, db *DB, owner *model.User, title, director string, year int) *model.Movie {
	t.Helper()
	movie := &model.Movie{
		Title:       title,
		Description: "A film called " + title,
		ReleaseYear: year,
		Genre:       "Drama",
		Director:    director,
		CreatedBy:   owner.ID,
	}
	if err := db.CreateMovie(context.Background(), movie); err != nil {
		t.Fatalf("failed to create test movie: %v", err)
	}
	return movie
}

func rate(t *testing.T, db *DB, movie *model.Movie, user *model.User, score int, comment string) (*model.Rating, bool) {
	t.Helper()
	r := &model.Rating{MovieID: movie.ID, UserID: user.ID, Score: score, Comment: comment}
	created, err := db.UpsertRating(context.Background(), r, true)
	if err != nil {
		t.Fatalf("UpsertRating() error = %v", err)
	}
	return r, created
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestMigrate_AddsRatingsVersionToOldSchema(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db, "alice")
	movie := createTestMovie(t, db, alice, "Inception", "Christopher Nolan", 2010)

	if _, err := db.conn.Exec(`ALTER TABLE movies DROP COLUMN ratings_version`); err != nil {
		t.Fatalf("dropping column: %v", err)
	}
	if err := db.migrate(); err != nil {
		t.Fatalf("migrate() error = %v", err)
	}

	rate(t, db, movie, alice, 4, "")
	agg, err := db.RatingAggregate(context.Background(), movie.ID)
	if err != nil {
		t.Fatalf("RatingAggregate() error = %v", err)
	}
	if agg.Version != 1 || agg.Count != 1 {
		t.Errorf("aggregate = %+v, want version 1 with one rating", agg)
	}
}

func TestUnicodeLower(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"AMÉLIE", "amélie"},
		{"Ça Ira", "ça ira"},
		{[]byte("ÖL"), "öl"},
		{nil, nil},
		{int64(42), int64(42)},
	}
	for _, tt := range tests {
		got, err := unicodeLower(nil, []driver.Value{tt.in})
		if err != nil {
			t.Fatalf("unicodeLower(%v) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("unicodeLower(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "memory database skips WAL",
			path: ":memory:",
			want: ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		},
		{
			name: "file database enables WAL",
			path: "data/catalog.db",
			want: "data/catalog.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
		{
			name: "existing query string is extended",
			path: "catalog.db?mode=rwc",
			want: "catalog.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dsn(tt.path); got != tt.want {
				t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"nolan":    "nolan",
		"100%":     `100\%`,
		"a_b":      `a\_b`,
		`back\sla`: `back\\sla`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, github_id, created_at, updated_at`

// CreateUser inserts a new password account.
// Returns apperror.ErrConflict if the username is already taken.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.GitHubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by their (case-sensitive) username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return u, nil
}

// UpsertGitHubUser inserts or refreshes an account keyed by GitHub ID.
//
// The ON CONFLICT clause makes this a single statement, so two concurrent
// first logins for the same GitHub account cannot create two rows. An
// existing row keeps its internal ID and username; only the email changes.
// RETURNING hands back the canonical row's ID either way.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return fmt.Errorf("sqlite: upserting GitHub user %q: missing github id", user.Username)
	}

	now := time.Now().UTC()
	var id string
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?, ?)
		 ON CONFLICT(github_id) DO UPDATE SET
		     email = excluded.email,
		     updated_at = excluded.updated_at
		 RETURNING id`,
		xid.New().String(),
		user.Username,
		user.Email,
		*user.GitHubID,
		now,
		now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			// github_id conflicts are absorbed above, so this is the username
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: upserting GitHub user %d: %w", *user.GitHubID, err)
	}

	u, err := db.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	*user = *u
	return nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.GitHubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

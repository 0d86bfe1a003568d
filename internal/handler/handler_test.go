package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/auth"
	"github.com/sakif/movie-catalog/internal/service"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   ErrorResponse
	}{
		{
			name:       "validation keeps the field",
			err:        apperror.ValidationFailed("score", "score must be between 1 and 5"),
			wantStatus: http.StatusBadRequest,
			wantBody:   ErrorResponse{Error: "validation_error", Message: "score must be between 1 and 5", Field: "score"},
		},
		{
			name:       "not found",
			err:        apperror.NotFound("movie", "abc"),
			wantStatus: http.StatusNotFound,
			wantBody:   ErrorResponse{Error: "not_found", Message: "movie not found with id abc"},
		},
		{
			name:       "forbidden",
			err:        apperror.Forbidden("only the creator can edit this movie"),
			wantStatus: http.StatusForbidden,
			wantBody:   ErrorResponse{Error: "forbidden", Message: "only the creator can edit this movie"},
		},
		{
			name:       "internal errors are not leaked",
			err:        errors.New("sqlite: disk I/O error"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   ErrorResponse{Error: "internal_error", Message: "an internal error occurred"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var got ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestWriteError_Unauthenticated(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apperror.AuthenticationRequired(""))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `Bearer realm="api"`, rr.Header().Get("WWW-Authenticate"))
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{"empty", "", "", "request body must not be empty"},
		{"malformed", `{"score":`, "", ""},
		{"wrong type", `{"score":"five"}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var in service.RatingInput
			err := decodeJSON(httptest.NewRecorder(), req, &in)

			require.ErrorIs(t, err, apperror.ErrValidation)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			if tt.wantMsg == "" {
				// the decoder decides how precisely it can name the problem
				assert.NotEmpty(t, appErr.Message)
				return
			}
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	body := `{"comment":"` + strings.Repeat("x", maxJSONBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var in service.RatingInput
	err := decodeJSON(httptest.NewRecorder(), req, &in)
	require.ErrorIs(t, err, apperror.ErrValidation)
}

func TestMovieInputFromForm(t *testing.T) {
	in, err := movieInputFromForm(map[string][]string{
		"title":        {"Alien"},
		"release_year": {" 1979 "},
		"imdb_rank":    {"8.5"},
		"actors":       {"Sigourney Weaver", "Tom Skerritt"},
	})
	require.NoError(t, err)

	require.NotNil(t, in.Title)
	assert.Equal(t, "Alien", *in.Title)
	require.NotNil(t, in.ReleaseYear)
	assert.Equal(t, 1979, *in.ReleaseYear)
	require.NotNil(t, in.IMDbRank)
	assert.Equal(t, 8.5, *in.IMDbRank)
	require.NotNil(t, in.Actors)
	assert.Equal(t, "Sigourney Weaver, Tom Skerritt", string(*in.Actors))

	// absent keys stay nil so a multipart PATCH only touches what was sent
	assert.Nil(t, in.Genre)
	assert.Nil(t, in.PhotoWidth)
}

func TestMovieInputFromForm_BadNumbers(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"release_year", "nineteen"},
		{"photo_width", "1.5"},
		{"imdb_rank", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := movieInputFromForm(map[string][]string{tt.key: {tt.value}})

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.key, appErr.Field)
		})
	}
}

func TestPageURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/movies?search=nolan&page=2&page_size=5", nil)

	next := pageURL(req, 3)
	require.NotNil(t, next)
	assert.Equal(t, "http://api.example.com/movies?page=3&page_size=5&search=nolan", *next)

	first := pageURL(req, 1)
	assert.Equal(t, "http://api.example.com/movies?page_size=5&search=nolan", *first)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/movies?page=4&page_size=0&bad=x", nil)

	n, err := queryInt(req, "page")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = queryInt(req, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = queryInt(req, "page_size")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = queryInt(req, "bad")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func newGitHubHandler() *AuthHandler {
	gh := auth.NewGitHubProvider("client-id", "client-secret", "http://localhost:8080/auth/github/callback")
	return NewAuthHandler(nil, gh, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGitHubLogin_SetsStateCookie(t *testing.T) {
	h := newGitHubHandler()

	rr := httptest.NewRecorder()
	h.HandleGitHubLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)
	assert.Equal(t, cookies[0].Value, loc.Query().Get("state"))
}

func TestGitHubCallback_Rejections(t *testing.T) {
	h := newGitHubHandler()

	tests := []struct {
		name       string
		query      string
		cookie     string
		wantStatus int
	}{
		{"no cookie", "?state=abc&code=xyz", "", http.StatusBadRequest},
		{"state mismatch", "?state=abc&code=xyz", "other", http.StatusBadRequest},
		{"denied on GitHub", "?state=abc&error=access_denied", "abc", http.StatusUnauthorized},
		{"missing code", "?state=abc", "abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/github/callback"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: stateCookie, Value: tt.cookie})
			}
			rr := httptest.NewRecorder()
			h.HandleGitHubCallback(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/auth"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/service"
)

// maxJSONBody caps JSON request bodies. Posters only arrive as multipart.
const maxJSONBody = 1 << 20

// requester is the authenticated user's ID, or "" for anonymous requests.
func requester(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// requireUser writes a 401 and reports false for anonymous requests. Write
// handlers call it before reading the body, so an anonymous caller gets
// 401 rather than a complaint about the body.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := requester(r)
	if id == "" {
		writeError(w, apperror.AuthenticationRequired(""))
		return "", false
	}
	return id, true
}

func pathID(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored. A
// body of the wrong shape is a validation error naming the field when the
// decoder can tell which one.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return apperror.ValidationFailed("", "request body must not be empty")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
	case errors.As(err, &maxErr):
		return apperror.ValidationFailed("", "request body is too large")
	default:
		return apperror.ValidationFailed("", "request body is not valid JSON")
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readMovieRequest decodes a movie body from JSON or from a multipart form.
// The returned upload is non-nil only when a poster_image file was sent;
// the caller must call the returned cleanup when done.
func readMovieRequest(w http.ResponseWriter, r *http.Request, maxUpload int64) (service.MovieInput, *service.Upload, func(), error) {
	noop := func() {}

	if !isMultipart(r) {
		var in service.MovieInput
		err := decodeJSON(w, r, &in)
		return in, nil, noop, err
	}

	// Leave headroom over the file limit for the text fields; the service
	// enforces the exact poster size.
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+maxJSONBody)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return service.MovieInput{}, nil, noop, apperror.ValidationFailed("poster_image", "upload is too large")
		}
		return service.MovieInput{}, nil, noop, apperror.ValidationFailed("", "malformed multipart form")
	}
	cleanup := func() { r.MultipartForm.RemoveAll() }

	in, err := movieInputFromForm(r.MultipartForm.Value)
	if err != nil {
		return in, nil, cleanup, err
	}

	files := r.MultipartForm.File["poster_image"]
	if len(files) == 0 {
		return in, nil, cleanup, nil
	}
	f, err := files[0].Open()
	if err != nil {
		return in, nil, cleanup, fmt.Errorf("handler: opening upload: %w", err)
	}
	cleanup = func() {
		f.Close()
		r.MultipartForm.RemoveAll()
	}
	return in, &service.Upload{Filename: files[0].Filename, Body: f}, cleanup, nil
}

// movieInputFromForm converts multipart text fields. Only keys present in
// the form are set, so a multipart PATCH merges like a JSON one.
func movieInputFromForm(values map[string][]string) (service.MovieInput, error) {
	var in service.MovieInput
	var err error

	text := func(key string) *string {
		v, ok := values[key]
		if !ok || len(v) == 0 {
			return nil
		}
		s := v[0]
		return &s
	}
	integer := func(key string) *int {
		s := text(key)
		if s == nil || err != nil {
			return nil
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(*s))
		if convErr != nil {
			err = apperror.ValidationFailed(key, key+" must be an integer")
			return nil
		}
		return &n
	}

	in.Title = text("title")
	in.Description = text("description")
	in.ReleaseYear = integer("release_year")
	in.Genre = text("genre")
	in.Director = text("director")
	in.IMDbID = text("imdb_id")
	in.AKA = text("aka")
	in.IMDbURL = text("imdb_url")
	in.IMDbIV = text("imdb_iv")
	in.PosterURL = text("poster_url")
	in.PhotoWidth = integer("photo_width")
	in.PhotoHeight = integer("photo_height")

	if s := text("imdb_rank"); s != nil && err == nil {
		rank, convErr := strconv.ParseFloat(strings.TrimSpace(*s), 64)
		if convErr != nil {
			err = apperror.ValidationFailed("imdb_rank", "imdb_rank must be a number")
		} else {
			in.IMDbRank = &rank
		}
	}

	// repeated actors fields are a list, a single one may be comma-joined
	if names, ok := values["actors"]; ok {
		cast := model.CastList(model.JoinCast(names))
		if len(names) == 1 {
			cast = model.CastList(names[0])
		}
		in.Actors = &cast
	}

	return in, err
}

// queryInt parses an optional positive integer query parameter. Missing
// means 0.
func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, apperror.ValidationFailed(key, key+" must be a positive integer")
	}
	return n, nil
}

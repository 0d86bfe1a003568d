package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/service"
)

// MovieHandler serves the movie and rating endpoints.
//
// ROUTES (mounted by the server):
//
//	GET    /movies                 → HandleList        (public)
//	POST   /movies                 → HandleCreate      (auth)
//	GET    /movies/{id}            → HandleGet         (public)
//	PUT    /movies/{id}            → HandleReplace     (owner)
//	PATCH  /movies/{id}            → HandleUpdate      (owner)
//	DELETE /movies/{id}            → HandleDelete      (owner)
//	GET    /movies/{id}/ratings    → HandleListRatings (public)
//	POST   /movies/{id}/ratings    → HandleRate        (auth)
//	GET    /users/{id}/ratings     → HandleUserRatings (public)
//
// Every route runs behind OptionalAuth. The handler passes the requester
// (possibly "") to the service, which decides whether anonymous is allowed.
type MovieHandler struct {
	catalog   *service.CatalogService
	maxUpload int64
}

func NewMovieHandler(catalog *service.CatalogService, maxUpload int64) *MovieHandler {
	if maxUpload <= 0 {
		maxUpload = service.DefaultMaxUploadBytes
	}
	return &MovieHandler{catalog: catalog, maxUpload: maxUpload}
}

// movieListResponse is the paginated list envelope. Next and Previous are
// absolute URLs, or null at either end.
type movieListResponse struct {
	Count    int               `json:"count"`
	Next     *string           `json:"next"`
	Previous *string           `json:"previous"`
	Results  []model.MovieView `json:"results"`
}

// HandleList returns one page of movies.
//
// HTTP: GET /movies?search=nolan&ordering=-release_year&page=2&page_size=20
func (h *MovieHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, err)
		return
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	result, err := h.catalog.ListMovies(r.Context(), service.ListParams{
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := movieListResponse{Count: result.Count, Results: result.Results}
	if result.HasNext() {
		resp.Next = pageURL(r, result.Page+1)
	}
	if result.HasPrevious() {
		resp.Previous = pageURL(r, result.Page-1)
	}
	writeJSON(w, http.StatusOK, resp)
}

// pageURL rebuilds the request URL pointing at another page, keeping every
// other query parameter. The link to page 1 drops the page parameter.
func pageURL(r *http.Request, page int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	q := r.URL.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	s := u.String()
	return &s
}

// HandleCreate creates a movie owned by the caller.
//
// HTTP: POST /movies
// BODY: JSON movie fields, or multipart/form-data with an optional
// poster_image file.
func (h *MovieHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	in, upload, cleanup, err := readMovieRequest(w, r, h.maxUpload)
	defer cleanup()
	if err != nil {
		writeError(w, err)
		return
	}

	movie, err := h.catalog.CreateMovie(r.Context(), in, upload, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movie)
}

// HandleGet returns a movie with its ratings.
//
// HTTP: GET /movies/{id}
func (h *MovieHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetMovieDetail(r.Context(), pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleReplace is PUT: title and release_year are required.
func (h *MovieHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.catalog.ReplaceMovie)
}

// HandleUpdate is PATCH: only supplied fields change.
func (h *MovieHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.catalog.UpdateMovie)
}

type movieUpdater func(ctx context.Context, id string, in service.MovieInput, upload *service.Upload, requester string) (*model.MovieView, error)

func (h *MovieHandler) update(w http.ResponseWriter, r *http.Request, apply movieUpdater) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	in, upload, cleanup, err := readMovieRequest(w, r, h.maxUpload)
	defer cleanup()
	if err != nil {
		writeError(w, err)
		return
	}

	movie, err := apply(r.Context(), pathID(r, "id"), in, upload, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

// HandleDelete removes a movie and its ratings.
//
// HTTP: DELETE /movies/{id} → 204 No Content
func (h *MovieHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteMovie(r.Context(), pathID(r, "id"), requester(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListRatings returns a movie's ratings, newest first.
//
// HTTP: GET /movies/{id}/ratings
func (h *MovieHandler) HandleListRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.catalog.ListMovieRatings(r.Context(), pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

// HandleRate creates or updates the caller's rating.
//
// HTTP: POST /movies/{id}/ratings
// BODY: {"score": 4, "comment": "optional"}
//
// 201 when this was the caller's first rating of the movie, 200 when it
// replaced an earlier one.
func (h *MovieHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.RatingInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	rating, created, err := h.catalog.RateMovie(r.Context(), pathID(r, "id"), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rating)
}

// HandleUserRatings returns every rating a user has given.
//
// HTTP: GET /users/{id}/ratings
func (h *MovieHandler) HandleUserRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.catalog.ListUserRatings(r.Context(), pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

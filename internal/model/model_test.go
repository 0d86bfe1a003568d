package model

import (
	"testing"

	"github.com/goccy/go-json"
)

func ptr[T any](v T) *T { return &v }

func TestMovieFieldsApply(t *testing.T) {
	m := &Movie{
		Title:       "Alien",
		ReleaseYear: 1979,
		Genre:       "Horror",
		AKA:         ptr("Alien: The Director's Cut"),
		IMDbURL:     ptr("https://www.imdb.com/title/tt0078748/"),
	}

	MovieFields{
		Genre:      ptr("Sci-Fi"),
		AKA:        ptr(""),
		IMDbRank:   ptr(8.5),
		PhotoWidth: ptr(600),
	}.Apply(m)

	if m.Title != "Alien" || m.ReleaseYear != 1979 {
		t.Errorf("untouched fields changed: %q %d", m.Title, m.ReleaseYear)
	}
	if m.Genre != "Sci-Fi" {
		t.Errorf("Genre = %q, want Sci-Fi", m.Genre)
	}
	if m.AKA != nil {
		t.Errorf("AKA = %q, want cleared", *m.AKA)
	}
	if m.IMDbURL == nil {
		t.Error("IMDbURL cleared, want kept")
	}
	if m.IMDbRank == nil || *m.IMDbRank != 8.5 {
		t.Errorf("IMDbRank = %v, want 8.5", m.IMDbRank)
	}
	if m.PhotoWidth == nil || *m.PhotoWidth != 600 {
		t.Errorf("PhotoWidth = %v, want 600", m.PhotoWidth)
	}
}

func TestMovieFieldsApply_CopiesValues(t *testing.T) {
	aka := "Original"
	m := &Movie{}
	MovieFields{AKA: &aka}.Apply(m)

	aka = "Changed"
	if *m.AKA != "Original" {
		t.Errorf("AKA aliased the input: %q", *m.AKA)
	}
}

func TestMoviePageLinks(t *testing.T) {
	tests := []struct {
		name     string
		page     MoviePage
		wantNext bool
		wantPrev bool
	}{
		{"single page", MoviePage{Count: 3, Page: 1, PageSize: 10}, false, false},
		{"first of two", MoviePage{Count: 12, Page: 1, PageSize: 10}, true, false},
		{"last of two", MoviePage{Count: 12, Page: 2, PageSize: 10}, false, true},
		{"exact fit", MoviePage{Count: 20, Page: 2, PageSize: 10}, false, true},
		{"middle", MoviePage{Count: 25, Page: 2, PageSize: 10}, true, true},
		{"empty", MoviePage{Count: 0, Page: 1, PageSize: 10}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.HasNext(); got != tt.wantNext {
				t.Errorf("HasNext() = %v, want %v", got, tt.wantNext)
			}
			if got := tt.page.HasPrevious(); got != tt.wantPrev {
				t.Errorf("HasPrevious() = %v, want %v", got, tt.wantPrev)
			}
		})
	}
}

func TestCastListUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"list", `["Sigourney Weaver", " Tom Skerritt ", ""]`, "Sigourney Weaver, Tom Skerritt", false},
		{"string", `"Sigourney Weaver, Tom Skerritt"`, "Sigourney Weaver, Tom Skerritt", false},
		{"empty list", `[]`, "", false},
		{"number", `42`, "", true},
		{"object", `{"name":"Ripley"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CastList
			err := json.Unmarshal([]byte(tt.input), &c)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(c) != tt.want {
				t.Errorf("got %q, want %q", c, tt.want)
			}
		})
	}
}

func TestAverageOf(t *testing.T) {
	if got := AverageOf(nil); got != 0 {
		t.Errorf("AverageOf(nil) = %v, want 0", got)
	}
	if got := AverageOf([]int{4, 3}); got != 3.5 {
		t.Errorf("AverageOf(4,3) = %v, want 3.5", got)
	}
}

func TestUserViews(t *testing.T) {
	u := &User{ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash"}

	if p := u.Public(); p.ID != "u1" || p.Username != "alice" {
		t.Errorf("Public() = %+v", p)
	}
	if a := u.Account(); a.Email != "alice@example.com" {
		t.Errorf("Account().Email = %q", a.Email)
	}

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out["PasswordHash"]; ok {
		t.Error("password hash leaked into JSON")
	}
	if _, ok := out["password_hash"]; ok {
		t.Error("password hash leaked into JSON")
	}
}

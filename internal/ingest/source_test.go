package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/pkg/types"
)

func newTestSource(srv *httptest.Server, kinds []string, limit int) *Source {
	return NewSource(config.IngestConfig{
		BaseURL: srv.URL,
		Kinds:   kinds,
		Limit:   limit,
	})
}

func TestCandidates_AllKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit param: got %q, want 25", got)
		}
		switch r.URL.Path {
		case "/keywords":
			fmt.Fprint(w, `{"items":[{"text":"glow up"},{"text":"Glow Up"}]}`)
		case "/hashtags":
			fmt.Fprint(w, `{"items":[{"text":"#fyp"}]}`)
		case "/sounds":
			fmt.Fprint(w, `{"items":[{"text":"vacation beat"}]}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newTestSource(srv, []string{"keyword", "hashtag", "sound"}, 25)
	got, err := s.Candidates(context.Background(), 0) // 0 → config default
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("candidates: got %d, want 4 (%v)", len(got), got)
	}

	// Raw text is passed through untouched, tagged with its kind.
	if got[0].Text != "glow up" || got[0].Kind != types.KindKeyword {
		t.Errorf("first candidate: got %+v", got[0])
	}
	if got[2].Text != "#fyp" || got[2].Kind != types.KindHashtag {
		t.Errorf("hashtag candidate: got %+v", got[2])
	}
	if got[3].Kind != types.KindSound {
		t.Errorf("sound candidate: got %+v", got[3])
	}
}

func TestCandidates_ExplicitLimitOverridesConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit param: got %q, want 5", got)
		}
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	s := newTestSource(srv, []string{"keyword"}, 100)
	if _, err := s.Candidates(context.Background(), 5); err != nil {
		t.Fatalf("Candidates: %v", err)
	}
}

func TestCandidates_PartialEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hashtags" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"items":[{"text":"still here"}]}`)
	}))
	defer srv.Close()

	s := newTestSource(srv, []string{"keyword", "hashtag"}, 10)
	got, err := s.Candidates(context.Background(), 0)
	if err != nil {
		t.Fatalf("partial failure should degrade, got error: %v", err)
	}
	if len(got) != 1 || got[0].Text != "still here" {
		t.Errorf("candidates: got %v", got)
	}
}

func TestCandidates_AllEndpointsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSource(srv, []string{"keyword", "hashtag"}, 10)
	if _, err := s.Candidates(context.Background(), 0); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
}

func TestCandidates_EmptyFeedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	s := newTestSource(srv, []string{"keyword"}, 10)
	got, err := s.Candidates(context.Background(), 0)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("candidates: got %v, want none", got)
	}
}

package store

import (
	"testing"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/errors"
)

func seedQueryStore(t *testing.T) *Store {
	t.Helper()
	s := testStore(t)

	caps := []*capsule.Capsule{
		{
			ID:    "auth",
			Slots: map[string]string{"WHAT": "login", "WHERE": "api"},
		},
		{
			ID:      "weighted",
			Slots:   map[string]string{"WHAT": "login", "WHERE": "cli"},
			Weights: map[string]float64{"WHAT": 3.0},
		},
		{
			ID:    "other",
			Slots: map[string]string{"WHAT": "billing", "WHERE": "api"},
		},
		{
			ID:    "sparse",
			Slots: map[string]string{"WHAT": "login"},
		},
	}
	for _, c := range caps {
		if _, err := s.Create(c); err != nil {
			t.Fatalf("Create(%s) failed: %v", c.ID, err)
		}
	}
	return s
}

func TestQuery_EmptyCriteria(t *testing.T) {
	s := testStore(t)
	if _, err := s.Query(nil); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Query(nil) error = %v, want INVALID_REQUEST", err)
	}
}

func TestQuery_SingleCriterion(t *testing.T) {
	s := seedQueryStore(t)

	results, err := s.Query(map[string]string{"WHAT": "login"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// weighted has weight 3.0 on WHAT, so it ranks first
	if results[0].Capsule.ID != "weighted" {
		t.Errorf("first result = %q, want weighted", results[0].Capsule.ID)
	}
	if results[0].MatchScore != 3.0 {
		t.Errorf("weighted score = %v, want 3.0", results[0].MatchScore)
	}
	// auth and sparse both score 1.0; insertion order breaks the tie
	if results[1].Capsule.ID != "auth" || results[2].Capsule.ID != "sparse" {
		t.Errorf("tie order = %q, %q, want auth, sparse", results[1].Capsule.ID, results[2].Capsule.ID)
	}
}

func TestQuery_MissingKeyExcludes(t *testing.T) {
	s := seedQueryStore(t)

	// sparse has no WHERE slot at all, so it cannot be a candidate
	results, err := s.Query(map[string]string{"WHAT": "login", "WHERE": "api"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, r := range results {
		if r.Capsule.ID == "sparse" {
			t.Error("capsule missing a criterion key must be excluded")
		}
	}
}

func TestQuery_PartialMatchScoring(t *testing.T) {
	s := seedQueryStore(t)

	results, err := s.Query(map[string]string{"WHAT": "login", "WHERE": "api"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	// auth satisfies both (score (1+1)/2 = 1.0), weighted satisfies WHAT
	// only (3/2 = 1.5), other satisfies WHERE only (1/2 = 0.5)
	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Capsule.ID] = r.MatchScore
	}
	if scores["auth"] != 1.0 {
		t.Errorf("auth score = %v, want 1.0", scores["auth"])
	}
	if scores["weighted"] != 1.5 {
		t.Errorf("weighted score = %v, want 1.5", scores["weighted"])
	}
	if scores["other"] != 0.5 {
		t.Errorf("other score = %v, want 0.5", scores["other"])
	}
	if results[0].Capsule.ID != "weighted" {
		t.Errorf("first result = %q, want weighted", results[0].Capsule.ID)
	}
}

func TestQuery_NoSatisfiedCriteriaExcludes(t *testing.T) {
	s := seedQueryStore(t)

	results, err := s.Query(map[string]string{"WHAT": "nothing-matches"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

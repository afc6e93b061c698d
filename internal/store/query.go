package store

import (
	"sort"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/errors"
)

// QueryResult pairs a matching capsule with its score.
type QueryResult struct {
	Capsule    *capsule.Capsule `json:"capsule"`
	MatchScore float64          `json:"match_score"`
}

// Query returns capsules matching the given slot criteria, best first.
//
// A capsule is a candidate only if every criterion key is present among
// its slots. A criterion is satisfied when the slot value equals the
// criterion value; capsules satisfying none are excluded. The score is
// the sum of the capsule's weights for satisfied criteria (1.0 when no
// weight is set) divided by the number of criteria. Ties keep insertion
// order.
func (s *Store) Query(criteria map[string]string) ([]QueryResult, error) {
	if len(criteria) == 0 {
		return nil, errors.NewInvalidRequest("at least one query criterion is required")
	}

	norm := make(map[string]string, len(criteria))
	for k, v := range criteria {
		key := capsule.NormalizeSlotKey(k)
		if key == "" {
			return nil, errors.NewInvalidRequest("query criterion key must not be empty")
		}
		norm[key] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []QueryResult
	for _, id := range s.order {
		c := s.capsules[id]
		score, ok := scoreCapsule(c, norm)
		if !ok {
			continue
		}
		results = append(results, QueryResult{
			Capsule:    c.Clone(),
			MatchScore: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchScore > results[j].MatchScore
	})
	return results, nil
}

// scoreCapsule computes the match score for one capsule, reporting false
// when the capsule is not a match.
func scoreCapsule(c *capsule.Capsule, criteria map[string]string) (float64, bool) {
	satisfiedWeight := 0.0
	satisfied := 0
	for key, want := range criteria {
		got, present := c.Slots[key]
		if !present {
			return 0, false
		}
		if got != want {
			continue
		}
		satisfied++
		w, hasWeight := c.Weights[key]
		if !hasWeight {
			w = 1.0
		}
		satisfiedWeight += w
	}
	if satisfied == 0 {
		return 0, false
	}
	return satisfiedWeight / float64(len(criteria)), true
}

package store

import (
	"crypto/rand"
	"database/sql"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/db"
	"github.com/capsid-dev/capsid/internal/errors"
)

// Store is the capsule store: an in-memory index over a write-through
// SQLite database. All mutations hit the database before the in-memory
// state, so a crash never loses acknowledged writes beyond the WAL.
type Store struct {
	mu       sync.Mutex
	database *sql.DB
	capsules map[string]*capsule.Capsule
	order    []string // insertion order of live capsule ids
	nextPos  int
}

// New builds a Store backed by the given database, loading any existing
// capsules. A missing or empty database yields an empty store.
func New(database *sql.DB) (*Store, error) {
	loaded, err := db.LoadCapsules(database)
	if err != nil {
		return nil, err
	}
	maxPos, err := db.MaxPosition(database)
	if err != nil {
		return nil, err
	}

	s := &Store{
		database: database,
		capsules: make(map[string]*capsule.Capsule, len(loaded)),
		nextPos:  maxPos,
	}
	for _, c := range loaded {
		s.capsules[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return s, nil
}

// Create stores a new capsule. An empty id gets a generated ULID; an
// explicit id that already exists is a DUPLICATE_ID error.
func (s *Store) Create(c *capsule.Capsule) (*capsule.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := prepare(c)
	if stored.ID == "" {
		id, err := generateULID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		stored.ID = id
	} else if _, exists := s.capsules[stored.ID]; exists {
		return nil, errors.NewDuplicateID(stored.ID)
	}

	now := time.Now().Unix()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := db.InsertCapsule(s.database, stored, s.nextPos+1); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewDuplicateID(stored.ID)
		}
		return nil, err
	}
	s.nextPos++
	s.capsules[stored.ID] = stored
	s.order = append(s.order, stored.ID)

	return stored.Clone(), nil
}

// Upsert stores a capsule by id, creating or updating in place. An
// identical upsert is a no-op that leaves both timestamps untouched.
// Returns the stored capsule and whether it was newly created.
func (s *Store) Upsert(c *capsule.Capsule) (*capsule.Capsule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(c)
}

func (s *Store) upsertLocked(c *capsule.Capsule) (*capsule.Capsule, bool, error) {
	incoming := prepare(c)
	if incoming.ID == "" {
		return nil, false, errors.NewInvalidRequest("capsule id is required for upsert")
	}

	existing, ok := s.capsules[incoming.ID]
	if !ok {
		now := time.Now().Unix()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		if err := db.InsertCapsule(s.database, incoming, s.nextPos+1); err != nil {
			return nil, false, err
		}
		s.nextPos++
		s.capsules[incoming.ID] = incoming
		s.order = append(s.order, incoming.ID)
		return incoming.Clone(), true, nil
	}

	if existing.ContentEquals(incoming) {
		return existing.Clone(), false, nil
	}

	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = time.Now().Unix()
	if err := db.UpdateCapsule(s.database, incoming); err != nil {
		return nil, false, err
	}
	s.capsules[incoming.ID] = incoming
	return incoming.Clone(), false, nil
}

// Get returns the capsule with the given id.
func (s *Store) Get(id string) (*capsule.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = capsule.NormalizeID(id)
	c, ok := s.capsules[id]
	if !ok {
		return nil, errors.NewNotFound(id)
	}
	return c.Clone(), nil
}

// Delete removes the capsule with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = capsule.NormalizeID(id)
	if _, ok := s.capsules[id]; !ok {
		return errors.NewNotFound(id)
	}
	if err := db.DeleteCapsule(s.database, id); err != nil {
		return err
	}
	delete(s.capsules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes every capsule and recorded annotation, returning the
// number of capsules removed.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.capsules)
	if err := db.ClearCapsules(s.database); err != nil {
		return 0, err
	}
	s.capsules = make(map[string]*capsule.Capsule)
	s.order = nil
	s.nextPos = 0
	return removed, nil
}

// List returns all capsules in insertion order.
func (s *Store) List() []*capsule.Capsule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*capsule.Capsule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.capsules[id].Clone())
	}
	return out
}

// Len returns the number of stored capsules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.capsules)
}

// RecordAnnotations replaces the recorded annotations for a file and
// upserts the capsules they describe. Annotations with empty capsule ids
// are recorded but produce no capsule. Returns the ids of capsules that
// were newly created.
func (s *Store) RecordAnnotations(filePath string, anns []capsule.Annotation) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := db.ReplaceAnnotations(s.database, filePath, anns); err != nil {
		return nil, err
	}

	var created []string
	for _, a := range anns {
		if a.CapsuleID == "" {
			continue
		}
		loc := a.Location
		c := &capsule.Capsule{
			ID:      a.CapsuleID,
			Slots:   a.Slots,
			Weights: a.Weights,
			Meta:    a.Meta,
			Source:  &loc,
		}
		_, isNew, err := s.upsertLocked(c)
		if err != nil {
			return created, err
		}
		if isNew {
			created = append(created, a.CapsuleID)
		}
	}
	return created, nil
}

// Annotations returns recorded annotations, optionally restricted to a
// file path prefix.
func (s *Store) Annotations(pathPrefix string) ([]capsule.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return db.LoadAnnotations(s.database, pathPrefix)
}

// Persist flushes the WAL into the main database file. Mutations are
// already write-through, so this is a durability checkpoint rather than
// a save.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return db.Checkpoint(s.database)
}

// prepare clones the input and normalizes its id and maps so stored
// capsules never alias caller memory and always carry non-nil slots.
func prepare(c *capsule.Capsule) *capsule.Capsule {
	out := c.Clone()
	out.ID = capsule.NormalizeID(out.ID)
	if out.Slots == nil {
		out.Slots = map[string]string{}
	}
	return out
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

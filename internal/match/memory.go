package match

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chequemate/backend/internal/models"
)

// MemoryStore is a Repository kept in process memory. It honours the same
// atomicity as the Postgres store and backs the unit tests.
type MemoryStore struct {
	mu          sync.Mutex
	byID        map[string]*models.MatchRecord
	byChallenge map[int64]string
	results     []models.MatchResult
	nextResult  int64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*models.MatchRecord),
		byChallenge: make(map[int64]string),
		now:         time.Now,
	}
}

// SetClock overrides the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) FindByID(_ context.Context, matchID string) (*models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) FindByChallenge(_ context.Context, challengeID int64) (*models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChallenge[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) EnsureRecord(_ context.Context, rec *models.MatchRecord) (*models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byChallenge[rec.ChallengeID]; ok {
		cp := *s.byID[id]
		return &cp, nil
	}
	stored := *rec
	now := s.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.byID[stored.ID] = &stored
	s.byChallenge[stored.ChallengeID] = stored.ID
	cp := stored
	return &cp, nil
}

func (s *MemoryStore) MarkRedirected(_ context.Context, challengeID int64, isChallenger bool) (*Redirection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChallenge[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.byID[id]

	first := false
	if isChallenger {
		first = !rec.ChallengerRedirected
		rec.ChallengerRedirected = true
	} else {
		first = !rec.OpponentRedirected
		rec.OpponentRedirected = true
	}
	rec.BothRedirected = rec.ChallengerRedirected && rec.OpponentRedirected

	startedNow := false
	now := s.now()
	if rec.BothRedirected && !rec.MatchStartedAt.Valid {
		rec.MatchStartedAt.Time, rec.MatchStartedAt.Valid = now, true
		startedNow = true
	}
	rec.UpdatedAt = now

	cp := *rec
	return &Redirection{Record: &cp, StartedNow: startedNow, FirstForUser: first}, nil
}

func (s *MemoryStore) Resolve(_ context.Context, res Resolution) (*models.MatchResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := false
	if rec, ok := s.byID[res.MatchID]; ok && !rec.ResultChecked {
		rec.ResultChecked = true
		rec.WinnerID = nullInt(res.WinnerID)
		rec.Result = nullString(res.Code)
		rec.MatchResult = append([]byte(nil), res.Raw...)
		rec.UpdatedAt = s.now()
		claimed = true
	}

	s.nextResult++
	row := resultRow(res, claimed, s.now())
	row.ID = s.nextResult
	s.results = append(s.results, row)
	cp := row
	return &cp, claimed, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[matchID]
	if !ok || !rec.ResultChecked || rec.CompletedAt.Valid {
		return nil
	}
	now := s.now()
	rec.CompletedAt.Time, rec.CompletedAt.Valid = now, true
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListAwaitingResult(_ context.Context) ([]models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MatchRecord
	for _, rec := range s.byID {
		if rec.BothRedirected && !rec.ResultChecked && rec.MatchStartedAt.Valid {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MatchStartedAt.Time.Before(out[j].MatchStartedAt.Time)
	})
	return out, nil
}

func (s *MemoryStore) ResultsForChallenge(_ context.Context, challengeID int64) ([]models.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MatchResult
	for _, r := range s.results {
		if r.ChallengeID == challengeID {
			out = append(out, r)
		}
	}
	return out, nil
}

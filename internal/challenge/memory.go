package challenge

import (
	"context"
	"sync"

	"github.com/chequemate/backend/internal/models"
)

// MemoryReader is an in-process Reader used by tests and local tooling.
type MemoryReader struct {
	mu         sync.RWMutex
	challenges map[int64]models.Challenge
}

func NewMemoryReader(challenges ...models.Challenge) *MemoryReader {
	r := &MemoryReader{challenges: make(map[int64]models.Challenge)}
	for _, c := range challenges {
		r.challenges[c.ID] = c
	}
	return r
}

// Put adds or replaces a challenge.
func (r *MemoryReader) Put(c models.Challenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[c.ID] = c
}

func (r *MemoryReader) GetChallenge(_ context.Context, challengeID int64) (*models.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.challenges[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Identifiers hands out stable IDs to owners (loaded assets, scene objects) and lets
// them be released again.
type Identifiers struct {
	mu     sync.Mutex
	owners map[uuid.UUID]interface{}
}

func NewIdentifiers() *Identifiers {
	return &Identifiers{owners: make(map[uuid.UUID]interface{})}
}

func (ids *Identifiers) Acquire(owner interface{}) uuid.UUID {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	id := uuid.New()
	ids.owners[id] = owner
	return id
}

func (ids *Identifiers) Owner(id uuid.UUID) (interface{}, bool) {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	o, ok := ids.owners[id]
	return o, ok
}

func (ids *Identifiers) Release(id uuid.UUID) error {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	if _, ok := ids.owners[id]; !ok {
		return fmt.Errorf("identifier '%s' was never acquired. Nothing was done", id)
	}
	delete(ids.owners, id)
	return nil
}

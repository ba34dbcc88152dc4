package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"labinsight/internal/resultstore"
)

// Registry owns the live sessions. A session expires ttl after creation
// and is closed when evicted.
type Registry struct {
	sessions  *expirable.LRU[string, *Session]
	processor Processor
	store     resultstore.Store
	opts      Options
}

func NewRegistry(size int, ttl time.Duration, processor Processor, store resultstore.Store, opts Options) *Registry {
	onEvict := func(_ string, s *Session) { s.Close() }
	return &Registry{
		sessions:  expirable.NewLRU[string, *Session](size, onEvict, ttl),
		processor: processor,
		store:     store,
		opts:      opts,
	}
}

func (r *Registry) Create() *Session {
	s := New(uuid.NewString(), r.processor, r.store, r.opts)
	r.sessions.Add(s.ID(), s)
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id string) bool {
	return r.sessions.Remove(id)
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Package pool holds the resource identifiers created during a run so that
// virtual users can update and delete resources created by any of them.
package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ID is a resource identifier returned by the target API.
type ID string

var (
	ErrEmptyID   = errors.New("empty id")
	ErrDuplicate = errors.New("id already in pool")
	ErrRetired   = errors.New("id was already removed from pool")
)

// Stats summarizes pool activity over a run.
type Stats struct {
	Pushed  int64 `json:"pushed" yaml:"pushed"`
	Popped  int64 `json:"popped" yaml:"popped"`
	Picked  int64 `json:"picked" yaml:"picked"`
	Current int   `json:"current" yaml:"current"`
}

// DefaultRetiredLimit is how many popped IDs a pool remembers by default.
const DefaultRetiredLimit = 1 << 20

// IDPool is an ordered, concurrency-safe set of live resource IDs.
// Every operation is atomic with respect to the others. A popped ID cannot be
// pushed again until it falls out of the retired window, which holds the most
// recent retiredLimit pops.
type IDPool struct {
	mu      sync.Mutex
	ids     []ID
	index   map[ID]struct{}
	rng     *rand.Rand
	stats   Stats

	retired      map[ID]struct{}
	retiredRing  []ID
	retiredNext  int
	retiredLimit int
}

// Option configures an IDPool.
type Option func(*IDPool)

// WithSeed makes PickRandom deterministic.
func WithSeed(seed int64) Option {
	return func(p *IDPool) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRetiredLimit sets how many popped IDs are remembered. Zero remembers
// every popped ID for the life of the pool.
func WithRetiredLimit(n int) Option {
	return func(p *IDPool) {
		if n >= 0 {
			p.retiredLimit = n
		}
	}
}

// New creates an empty pool.
func New(opts ...Option) *IDPool {
	p := &IDPool{
		index:        make(map[ID]struct{}),
		retired:      make(map[ID]struct{}),
		retiredLimit: DefaultRetiredLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Push appends id as the most recent entry.
func (p *IDPool) Push(id ID) error {
	if id == "" {
		return ErrEmptyID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if _, ok := p.retired[id]; ok {
		return fmt.Errorf("%w: %s", ErrRetired, id)
	}
	p.index[id] = struct{}{}
	p.ids = append(p.ids, id)
	p.stats.Pushed++
	return nil
}

// PopLatest removes and returns the most recently pushed id.
func (p *IDPool) PopLatest() (ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.ids)
	if n == 0 {
		return "", false
	}
	id := p.ids[n-1]
	p.ids = p.ids[:n-1]
	delete(p.index, id)
	p.retireLocked(id)
	p.stats.Popped++
	return id, true
}

// retireLocked records id, evicting the oldest retired id once the window
// is full.
func (p *IDPool) retireLocked(id ID) {
	p.retired[id] = struct{}{}
	if p.retiredLimit == 0 {
		return
	}
	if len(p.retiredRing) < p.retiredLimit {
		p.retiredRing = append(p.retiredRing, id)
		return
	}
	delete(p.retired, p.retiredRing[p.retiredNext])
	p.retiredRing[p.retiredNext] = id
	p.retiredNext = (p.retiredNext + 1) % p.retiredLimit
}

// PickRandom returns a uniformly chosen id without removing it.
func (p *IDPool) PickRandom() (ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return "", false
	}
	p.stats.Picked++
	return p.ids[p.rng.Intn(len(p.ids))], true
}

// Latest returns the most recent id without removing it.
func (p *IDPool) Latest() (ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return "", false
	}
	return p.ids[len(p.ids)-1], true
}

// Contains reports whether id is currently in the pool.
func (p *IDPool) Contains(id ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[id]
	return ok
}

// Len returns the number of live ids.
func (p *IDPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Stats returns a copy of the pool counters.
func (p *IDPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Current = len(p.ids)
	return s
}

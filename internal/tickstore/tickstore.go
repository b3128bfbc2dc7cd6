// Package tickstore keeps the latest tick per instrument for concurrent readers.
package tickstore

import (
	"hash/fnv"
	"sync"

	"optionbot-go/internal/signal"
)

const shardCount = 16

// Key identifies an instrument by exchange segment and security id.
type Key struct {
	Segment    string
	SecurityID string
}

type shard struct {
	mu    sync.RWMutex
	ticks map[Key]signal.Tick
}

// Store is a sharded map of latest ticks. Writers on one shard never block readers on another.
type Store struct {
	shards [shardCount]*shard
}

// New builds an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{ticks: make(map[Key]signal.Tick)}
	}
	return s
}

func (s *Store) shardFor(k Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.Segment))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.SecurityID))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the latest tick for the instrument.
func (s *Store) Get(segment, securityID string) (signal.Tick, bool) {
	k := Key{Segment: segment, SecurityID: securityID}
	sh := s.shardFor(k)
	sh.mu.RLock()
	tk, ok := sh.ticks[k]
	sh.mu.RUnlock()
	return tk, ok
}

// Put replaces the stored tick for the tick's instrument. Older timestamps never overwrite newer ones.
func (s *Store) Put(tk signal.Tick) {
	k := Key{Segment: tk.Segment, SecurityID: tk.SecurityID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if prev, ok := sh.ticks[k]; ok && !tk.Ts.IsZero() && tk.Ts.Before(prev.Ts) {
		return
	}
	sh.ticks[k] = tk
}

// Len reports how many instruments currently have a tick.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.ticks)
		sh.mu.RUnlock()
	}
	return n
}

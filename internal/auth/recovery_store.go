// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"crypto/subtle"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recovery code store configuration.
const (
	recoveryShardCount = 32

	// DefaultSweepInterval is how often expired entries are removed in the
	// background. Reads evict expired entries regardless.
	DefaultSweepInterval = time.Minute
)

// RecoveryCodeStoreConfig configures a RecoveryCodeStore.
type RecoveryCodeStoreConfig struct {
	// Clock defaults to time.Now.
	Clock Clock

	// SweepInterval defaults to DefaultSweepInterval if zero or negative.
	SweepInterval time.Duration

	// Registerer receives the outstanding-codes gauge when non-nil.
	Registerer prometheus.Registerer
}

type recoveryEntry struct {
	code      string
	expiresAt time.Time
}

type recoveryShard struct {
	mu      sync.Mutex
	entries map[string]recoveryEntry
}

// RecoveryCodeStore is an in-memory destination->code map with per-entry
// expiry. It is safe for concurrent use. Destinations hash to one of a fixed
// set of shards, each with its own mutex, so operations on different
// destinations rarely contend and operations on the same destination are
// serialized.
//
// The store runs a background goroutine that sweeps expired entries. Call
// Close() to stop it.
type RecoveryCodeStore struct {
	shards [recoveryShardCount]recoveryShard
	clock  Clock

	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	liveGauge prometheus.Gauge
}

// NewRecoveryCodeStore creates a store and starts its sweeper.
func NewRecoveryCodeStore(cfg RecoveryCodeStoreConfig) *RecoveryCodeStore {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s := &RecoveryCodeStore{
		clock:    clock,
		stopChan: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]recoveryEntry)
	}

	if cfg.Registerer != nil {
		s.liveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeheaven_recovery_codes_outstanding",
			Help: "Current number of unexpired recovery codes held in memory",
		})
		cfg.Registerer.MustRegister(s.liveGauge)
	}

	s.wg.Add(1)
	go s.sweepLoop(interval)

	return s
}

// Put stores code for destination, replacing any previous entry. The entry
// expires ttl from now.
func (s *RecoveryCodeStore) Put(destination, code string, ttl time.Duration) {
	key := NormalizeEmail(destination)
	shard := s.shardFor(key)

	shard.mu.Lock()
	shard.entries[key] = recoveryEntry{code: code, expiresAt: s.clock().Add(ttl)}
	shard.mu.Unlock()
}

// TakeIfValid atomically consumes the entry for destination if it exists,
// has not expired and holds code. It returns true at most once per stored
// code. A non-matching code leaves a live entry in place; an expired entry
// is removed.
func (s *RecoveryCodeStore) TakeIfValid(destination, code string) bool {
	key := NormalizeEmail(destination)
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		return false
	}
	if !s.clock().Before(entry.expiresAt) {
		delete(shard.entries, key)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		return false
	}

	delete(shard.entries, key)
	return true
}

// Has reports whether destination holds an unexpired code, evicting an
// expired one.
func (s *RecoveryCodeStore) Has(destination string) bool {
	key := NormalizeEmail(destination)
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		return false
	}
	if !s.clock().Before(entry.expiresAt) {
		delete(shard.entries, key)
		return false
	}
	return true
}

// Delete removes any entry for destination.
func (s *RecoveryCodeStore) Delete(destination string) {
	key := NormalizeEmail(destination)
	shard := s.shardFor(key)

	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()
}

// Len returns the number of stored entries, including expired entries not
// yet evicted. Useful for testing and monitoring.
func (s *RecoveryCodeStore) Len() int {
	n := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		n += len(shard.entries)
		shard.mu.Unlock()
	}
	return n
}

// Sweep removes every expired entry and returns how many remain.
// This is called automatically by the background goroutine.
func (s *RecoveryCodeStore) Sweep() int {
	now := s.clock()
	live := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !now.Before(entry.expiresAt) {
				delete(shard.entries, key)
			}
		}
		live += len(shard.entries)
		shard.mu.Unlock()
	}

	if s.liveGauge != nil {
		s.liveGauge.Set(float64(live))
	}
	return live
}

// Close stops the background sweeper. It blocks until the goroutine has
// stopped and is safe to call more than once.
func (s *RecoveryCodeStore) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *RecoveryCodeStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *RecoveryCodeStore) shardFor(key string) *recoveryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key)) //nolint:errcheck // hash.Hash never returns an error
	return &s.shards[h.Sum32()%recoveryShardCount]
}

// Package dedupe collapses concurrent duplicate in-flight stub queries
// issued by resolutions that share one Group, so that concurrent
// resolutions never send the same (name, qtype) to the same nameserver
// twice at once. Entries exist only for the lifetime of the in-flight
// query; nothing here persists across requests, so it is not the answer
// cache the core explicitly excludes.
package dedupe

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/dchest/siphash"
)

// Group fingerprints in-flight queries with a keyed SipHash-2-4 hash and
// lets concurrent callers asking for the same (name, qtype, server) share
// one outcome, following the singleflight pattern.
type Group struct {
	key [16]byte

	mu       sync.Mutex
	inflight map[uint64]*call
}

type call struct {
	done chan struct{}
	val  any
	err  error
}

// NewGroup returns a Group keyed with a fresh random SipHash key, so
// fingerprints are not predictable or stable across process restarts.
func NewGroup() (*Group, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("dedupe: generating siphash key: %w", err)
	}
	return &Group{key: key, inflight: make(map[uint64]*call)}, nil
}

// fingerprint hashes (name, qtype, server) into a 64-bit key.
func (g *Group) fingerprint(name string, qtype uint16, server string) uint64 {
	h := siphash.New(g.key[:])
	h.Write([]byte(name))
	h.Write([]byte{byte(qtype >> 8), byte(qtype)})
	h.Write([]byte(server))
	return h.Sum64()
}

// Do executes fn unless an identical (name, qtype, server) query is
// already in flight, in which case it waits for that call's result
// instead of issuing a redundant query. The shared flag reports whether
// the result was obtained from another caller's in-flight call.
func (g *Group) Do(name string, qtype uint16, server string, fn func() (any, error)) (val any, shared bool, err error) {
	key := g.fingerprint(name, qtype, server)

	g.mu.Lock()
	if c, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.val, true, c.err
	}

	c := &call{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()

	return c.val, false, c.err
}

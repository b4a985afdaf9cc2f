package flowtable

import (
	"Go2NetSentry/internal/core/model"
	"container/list"
	"encoding/binary"
	"hash/maphash"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultShardCount = 256

// EvictCause tells why a flow left the table.
type EvictCause int

const (
	EvictCapacity EvictCause = iota
	EvictIdle
)

func (c EvictCause) String() string {
	if c == EvictIdle {
		return "idle"
	}
	return "capacity"
}

// EvictFunc is called once for every flow removed by eviction or reaping.
// It runs after the shard lock has been released.
type EvictFunc func(flow model.FlowSnapshot, cause EvictCause)

// Config bounds the table. Zero values mean unbounded.
type Config struct {
	NumShards   uint32
	MaxFlows    int
	IdleTimeout time.Duration
}

type record struct {
	id           string
	key          model.FlowKey
	firstSeen    time.Time
	lastSeen     time.Time
	packets      uint64
	bytes        uint64
	interArrival time.Duration
	elem         *list.Element
}

func (r *record) snapshot() model.FlowSnapshot {
	return model.FlowSnapshot{
		ID:           r.id,
		Key:          r.key,
		FirstSeen:    r.firstSeen,
		LastSeen:     r.lastSeen,
		PacketCount:  r.packets,
		ByteCount:    r.bytes,
		InterArrival: r.interArrival,
	}
}

// shard is a part of the table with its own map, recency list and mutex.
// The list is ordered by update, most recent at the front.
type shard struct {
	mu    sync.RWMutex
	flows map[model.FlowKey]*record
	lru   *list.List
}

// Table maps flow keys to flow records. A key always hashes to the same
// shard, so the lookup-insert-update sequence for one key is serialized by
// that shard's mutex. The shard hash is seeded per table.
//
// MaxFlows bounds the whole table. When it is exceeded the least recently
// updated flow of the inserting shard is evicted, or of another shard when
// the inserting shard holds nothing else.
type Table struct {
	shards      []*shard
	shardCount  uint32
	seed        maphash.Seed
	maxFlows    int64
	count       atomic.Int64
	idleTimeout time.Duration
	onEvict     EvictFunc
	watermark   atomic.Int64
}

// New creates a flow table.
func New(cfg Config) *Table {
	numShards := cfg.NumShards
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}

	t := &Table{
		shards:      make([]*shard, numShards),
		shardCount:  numShards,
		seed:        maphash.MakeSeed(),
		maxFlows:    int64(max(cfg.MaxFlows, 0)),
		idleTimeout: cfg.IdleTimeout,
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			flows: make(map[model.FlowKey]*record),
			lru:   list.New(),
		}
	}
	log.Printf("Creating flow table with %d shards, max flows %d, idle timeout %s", numShards, cfg.MaxFlows, cfg.IdleTimeout)
	return t
}

// OnEvict registers the eviction callback. It must be set before the table is used.
func (t *Table) OnEvict(fn EvictFunc) {
	t.onEvict = fn
}

// getShard returns the shard responsible for a key.
func (t *Table) getShard(key model.FlowKey) *shard {
	var buf [37]byte
	src, dst := key.SrcIP.As16(), key.DstIP.As16()
	copy(buf[0:16], src[:])
	copy(buf[16:32], dst[:])
	binary.BigEndian.PutUint16(buf[32:34], key.SrcPort)
	binary.BigEndian.PutUint16(buf[34:36], key.DstPort)
	buf[36] = key.Protocol

	return t.shards[maphash.Bytes(t.seed, buf[:])%uint64(t.shardCount)]
}

// Observe records one packet of byteLength bytes captured at ts and returns
// the flow state after the update.
//
// A timestamp that is not later than the flow's last-seen time still counts
// the packet and its bytes, but leaves last-seen and the inter-arrival time
// untouched.
func (t *Table) Observe(key model.FlowKey, ts time.Time, byteLength int) model.FlowSnapshot {
	t.advanceWatermark(ts)
	bytes := uint64(max(byteLength, 0))

	s := t.getShard(key)
	s.mu.Lock()

	if r, ok := s.flows[key]; ok {
		if delta := ts.Sub(r.lastSeen); delta > 0 {
			r.interArrival = delta
			r.lastSeen = ts
		}
		r.packets++
		r.bytes += bytes
		s.lru.MoveToFront(r.elem)
		snap := r.snapshot()
		s.mu.Unlock()
		return snap
	}

	r := &record{
		id:        uuid.NewString(),
		key:       key,
		firstSeen: ts,
		lastSeen:  ts,
		packets:   1,
		bytes:     bytes,
	}
	r.elem = s.lru.PushFront(r)
	s.flows[key] = r
	snap := r.snapshot()
	s.mu.Unlock()

	if n := t.count.Add(1); t.maxFlows > 0 && n > t.maxFlows {
		t.shrink(s, key)
	}
	return snap
}

// shrink evicts least recently updated flows until the table is back within
// MaxFlows. The flow under keep, just inserted, is never chosen.
func (t *Table) shrink(prefer *shard, keep model.FlowKey) {
	for {
		n := t.count.Load()
		if n <= t.maxFlows {
			return
		}
		if !t.count.CompareAndSwap(n, n-1) {
			continue
		}
		victim, ok := prefer.evictOldest(keep)
		for i := 0; !ok && i < len(t.shards); i++ {
			if t.shards[i] != prefer {
				victim, ok = t.shards[i].evictOldest(keep)
			}
		}
		if !ok {
			t.count.Add(1)
			return
		}
		if t.onEvict != nil {
			t.onEvict(victim, EvictCapacity)
		}
	}
}

// evictOldest removes the least recently updated flow of the shard unless it
// is keep. The caller has already taken the flow off the table count.
func (s *shard) evictOldest(keep model.FlowKey) (model.FlowSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		victim := e.Value.(*record)
		if victim.key == keep {
			continue
		}
		s.remove(victim)
		return victim.snapshot(), true
	}
	return model.FlowSnapshot{}, false
}

func (s *shard) remove(r *record) {
	s.lru.Remove(r.elem)
	delete(s.flows, r.key)
}

// Get returns a copy of the flow stored under key.
func (t *Table) Get(key model.FlowKey) (model.FlowSnapshot, bool) {
	s := t.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.flows[key]; ok {
		return r.snapshot(), true
	}
	return model.FlowSnapshot{}, false
}

// Len returns the number of flows currently tracked.
func (t *Table) Len() int {
	count := 0
	for _, s := range t.shards {
		s.mu.RLock()
		count += len(s.flows)
		s.mu.RUnlock()
	}
	return count
}

// Snapshot returns a copy of every flow. Shards are copied one at a time, so
// concurrent updates may land in some shards and not in others.
func (t *Table) Snapshot() []model.FlowSnapshot {
	flows := make([]model.FlowSnapshot, 0, t.Len())
	for _, s := range t.shards {
		s.mu.RLock()
		for _, r := range s.flows {
			flows = append(flows, r.snapshot())
		}
		s.mu.RUnlock()
	}
	return flows
}

// Reap removes every flow whose last packet is older than the idle timeout
// relative to now, and returns the removed flows.
func (t *Table) Reap(now time.Time) []model.FlowSnapshot {
	if t.idleTimeout <= 0 {
		return nil
	}
	deadline := now.Add(-t.idleTimeout)

	var reaped []model.FlowSnapshot
	for _, s := range t.shards {
		s.mu.Lock()
		for _, r := range s.flows {
			if r.lastSeen.Before(deadline) {
				s.remove(r)
				t.count.Add(-1)
				reaped = append(reaped, r.snapshot())
			}
		}
		s.mu.Unlock()
	}

	if t.onEvict != nil {
		for _, flow := range reaped {
			t.onEvict(flow, EvictIdle)
		}
	}
	return reaped
}

// ReapIdle reaps relative to the latest capture timestamp seen, which keeps
// offline replays reaping by capture time rather than wall-clock time.
func (t *Table) ReapIdle() []model.FlowSnapshot {
	wm := t.Watermark()
	if wm.IsZero() {
		return nil
	}
	return t.Reap(wm)
}

// Watermark returns the latest capture timestamp observed so far.
func (t *Table) Watermark() time.Time {
	ns := t.watermark.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *Table) advanceWatermark(ts time.Time) {
	ns := ts.UnixNano()
	for {
		cur := t.watermark.Load()
		if ns <= cur || t.watermark.CompareAndSwap(cur, ns) {
			return
		}
	}
}

// Reset clears every shard.
func (t *Table) Reset() {
	for _, s := range t.shards {
		s.mu.Lock()
		t.count.Add(-int64(len(s.flows)))
		s.flows = make(map[model.FlowKey]*record)
		s.lru.Init()
		s.mu.Unlock()
	}
}

package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/types"
)

// Key identifies a ledger entry. Client-initiated entries leave Target empty;
// agent-to-agent entries carry the target address so an agent can be a
// requester and a target at the same time.
type Key struct {
	Requester string
	Target    string
}

// ClientKey is the key of a client-initiated request
func ClientKey(requester string) Key {
	return Key{Requester: requester}
}

// AgentKey is the key of an agent-to-agent request
func AgentKey(requester, address string) Key {
	return Key{Requester: requester, Target: address}
}

// IsAgentCall reports whether the key belongs to an agent-to-agent request
func (k Key) IsAgentCall() bool {
	return k.Target != ""
}

func (k Key) String() string {
	if k.Target == "" {
		return k.Requester
	}
	return k.Requester + "->" + k.Target
}

// Entry is one outstanding call attempt
type Entry struct {
	Key       Key
	Kind      types.CallKind
	Address   string   // empty selects any available agent
	Resolved  string   // chosen target; empty until one is chosen or connects
	Notified  []string // agents offered a broadcast request
	CreatedAt time.Time
	ExpiresAt time.Time

	gen   uint64
	timer *time.Timer
}

// Broadcast reports whether the entry targets any available agent
func (e Entry) Broadcast() bool {
	return e.Address == ""
}

// Deferred reports whether the entry waits for its address to connect
func (e Entry) Deferred() bool {
	return e.Address != "" && e.Resolved == ""
}

// Targets returns the identities that were offered this request
func (e Entry) Targets() []string {
	if e.Resolved != "" {
		return []string{e.Resolved}
	}
	return append([]string(nil), e.Notified...)
}

// TTL returns the entry's lifetime
func (e Entry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// ExpireFunc is invoked from the timer goroutine when an entry's TTL elapses.
// Implementations must take their own exclusion and call Expire with the same
// key and generation; Expire ignores fires for entries that are already gone.
type ExpireFunc func(key Key, gen uint64)

// Ledger holds every outstanding call request and owns its expiry timer
type Ledger struct {
	entries  map[Key]*Entry
	nextGen  uint64
	onExpire ExpireFunc
	mu       sync.Mutex
}

// New creates a ledger whose timers report to onExpire
func New(onExpire ExpireFunc) *Ledger {
	return &Ledger{
		entries:  make(map[Key]*Entry),
		onExpire: onExpire,
	}
}

// Open creates an entry and starts its timer. Any live entry of the same
// requester is cancelled first and returned as superseded.
func (l *Ledger) Open(key Key, kind types.CallKind, address string, ttl time.Duration) (Entry, []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var superseded []Entry
	for k, e := range l.entries {
		if k.Requester == key.Requester {
			superseded = append(superseded, l.removeLocked(e))
		}
	}
	sortByGen(superseded)

	l.nextGen++
	now := time.Now()
	e := &Entry{
		Key:       key,
		Kind:      kind,
		Address:   address,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		gen:       l.nextGen,
	}
	gen := e.gen
	e.timer = time.AfterFunc(ttl, func() {
		if l.onExpire != nil {
			l.onExpire(key, gen)
		}
	})
	l.entries[key] = e
	return e.snapshot(), superseded
}

// Get returns a copy of the live entry for key
func (l *Ledger) Get(key Key) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// ByRequester returns the live entry opened by requester, if any
func (l *Ledger) ByRequester(requester string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.entries {
		if k.Requester == requester {
			return e.snapshot(), true
		}
	}
	return Entry{}, false
}

// Take stops the entry's timer and removes it. It is the single removal path
// for accept, reject and cancel.
func (l *Ledger) Take(key Key) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return l.removeLocked(e), true
}

// Cancel removes the entry for key and reports whether one existed
func (l *Ledger) Cancel(key Key) bool {
	_, ok := l.Take(key)
	return ok
}

// Expire removes the entry only if it is still the generation whose timer fired
func (l *Ledger) Expire(key Key, gen uint64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.gen != gen {
		return Entry{}, false
	}
	return l.removeLocked(e), true
}

// SetNotified records the agents a broadcast request was offered to
func (l *Ledger) SetNotified(key Key, ids []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	e.Notified = append([]string(nil), ids...)
	return true
}

// Resolve pins the target of an entry
func (l *Ledger) Resolve(key Key, target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	e.Resolved = target
	e.Notified = []string{target}
	return true
}

// ResolveDeferred pins target on every unresolved entry waiting for address
// and returns those entries in creation order. Resolved entries are untouched.
func (l *Ledger) ResolveDeferred(address, target string) []Entry {
	if address == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var resolved []Entry
	for _, e := range l.entries {
		if e.Address != address || e.Resolved != "" || e.Key.Requester == target {
			continue
		}
		e.Resolved = target
		e.Notified = []string{target}
		resolved = append(resolved, e.snapshot())
	}
	sortByGen(resolved)
	return resolved
}

// Withdraw removes id from the set of agents offered a broadcast request
func (l *Ledger) Withdraw(key Key, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	for i, n := range e.Notified {
		if n == id {
			e.Notified = append(e.Notified[:i:i], e.Notified[i+1:]...)
			return true
		}
	}
	return false
}

// Involving returns entries where id is the requester or the resolved target
func (l *Ledger) Involving(id string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var list []Entry
	for _, e := range l.entries {
		if e.Key.Requester == id || e.Resolved == id {
			list = append(list, e.snapshot())
		}
	}
	sortByGen(list)
	return list
}

// OfferedTo returns unresolved broadcast entries that were offered to id
func (l *Ledger) OfferedTo(id string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var list []Entry
	for _, e := range l.entries {
		if e.Resolved != "" {
			continue
		}
		for _, n := range e.Notified {
			if n == id {
				list = append(list, e.snapshot())
				break
			}
		}
	}
	sortByGen(list)
	return list
}

// List returns every live entry in creation order
func (l *Ledger) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		list = append(list, e.snapshot())
	}
	sortByGen(list)
	return list
}

// Len returns the number of live entries
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops every timer and drops all entries
func (l *Ledger) Close() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	for _, e := range l.entries {
		l.removeLocked(e)
	}
	return n
}

// removeLocked stops the timer before the entry leaves the map
func (l *Ledger) removeLocked(e *Entry) Entry {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(l.entries, e.Key)
	return e.snapshot()
}

func (e *Entry) snapshot() Entry {
	c := *e
	c.Notified = append([]string(nil), e.Notified...)
	c.timer = nil
	return c
}

func sortByGen(list []Entry) {
	sort.Slice(list, func(i, j int) bool { return list[i].gen < list[j].gen })
}

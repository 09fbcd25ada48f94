package ledger

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expiring wires a ledger whose timers remove entries and record what fired
func expiring() (*Ledger, *[]Key, *sync.Mutex) {
	var (
		mu    sync.Mutex
		fired []Key
		l     *Ledger
	)
	l = New(func(key Key, gen uint64) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := l.Expire(key, gen); ok {
			fired = append(fired, key)
		}
	})
	return l, &fired, &mu
}

func TestOpenSupersedesPriorRequest(t *testing.T) {
	l := New(nil)
	first, superseded := l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)
	assert.Empty(t, superseded)
	assert.True(t, first.Broadcast())

	second, superseded := l.Open(ClientKey("c1"), types.CallVideo, "555", time.Minute)
	require.Len(t, superseded, 1)
	assert.Equal(t, types.CallAudio, superseded[0].Kind)
	assert.Equal(t, 1, l.Len())

	got, ok := l.Get(ClientKey("c1"))
	require.True(t, ok)
	assert.Equal(t, second.Kind, got.Kind)
	assert.Equal(t, "555", got.Address)
	assert.True(t, got.Deferred())
}

func TestOpenSupersedesAcrossTargets(t *testing.T) {
	l := New(nil)
	l.Open(AgentKey("a1", "555"), types.CallAudio, "555", time.Minute)
	_, superseded := l.Open(AgentKey("a1", "666"), types.CallAudio, "666", time.Minute)

	require.Len(t, superseded, 1)
	assert.Equal(t, AgentKey("a1", "555"), superseded[0].Key)
	assert.Equal(t, 1, l.Len(), "at most one live entry per requester")
}

func TestAgentMayBeRequesterAndTarget(t *testing.T) {
	l := New(nil)
	l.Open(AgentKey("a1", "555"), types.CallAudio, "555", time.Minute)
	l.Open(AgentKey("a2", "111"), types.CallAudio, "111", time.Minute)
	l.Resolve(AgentKey("a2", "111"), "a1")

	involving := l.Involving("a1")
	require.Len(t, involving, 2)
	assert.Equal(t, "a1", involving[0].Key.Requester)
	assert.Equal(t, "a1", involving[1].Resolved)
}

func TestCancelReportsExistence(t *testing.T) {
	l := New(nil)
	l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)

	assert.True(t, l.Cancel(ClientKey("c1")))
	assert.False(t, l.Cancel(ClientKey("c1")), "second cancel finds no entry")
	assert.False(t, l.Cancel(ClientKey("never")))
}

func TestTimeoutRemovesEntry(t *testing.T) {
	l, fired, mu := expiring()
	l.Open(ClientKey("c1"), types.CallAudio, "", 20*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*fired) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Cancel(ClientKey("c1")))
}

func TestOpenThenCancelLeavesNoTimer(t *testing.T) {
	l, fired, mu := expiring()
	l.Open(ClientKey("c1"), types.CallAudio, "", 20*time.Millisecond)
	require.True(t, l.Cancel(ClientKey("c1")))

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *fired)
}

func TestSupersededTimerDoesNotExpireReplacement(t *testing.T) {
	var calls atomic.Int32
	var l *Ledger
	l = New(func(key Key, gen uint64) {
		calls.Add(1)
		l.Expire(key, gen)
	})

	_, _ = l.Open(ClientKey("c1"), types.CallAudio, "", 20*time.Millisecond)
	_, _ = l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, l.Len(), "replacement must survive the old ttl")
	l.Close()
}

func TestStaleFireIsNoop(t *testing.T) {
	l := New(nil)
	e, _ := l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)
	gen := e.gen

	// a fire that raced with removal
	_, ok := l.Take(ClientKey("c1"))
	require.True(t, ok)
	_, ok = l.Expire(ClientKey("c1"), gen)
	assert.False(t, ok)

	// a fire from a superseded generation
	l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)
	_, ok = l.Expire(ClientKey("c1"), gen)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
	l.Close()
}

func TestResolveDeferred(t *testing.T) {
	l := New(nil)
	l.Open(ClientKey("c1"), types.CallVideo, "555", time.Minute)
	l.Open(ClientKey("c2"), types.CallAudio, "555", time.Minute)
	l.Open(ClientKey("c3"), types.CallAudio, "666", time.Minute)
	l.Open(ClientKey("c4"), types.CallAudio, "", time.Minute)

	resolved := l.ResolveDeferred("555", "a1")
	require.Len(t, resolved, 2)
	assert.Equal(t, "c1", resolved[0].Key.Requester, "creation order")
	assert.Equal(t, "c2", resolved[1].Key.Requester)
	assert.Equal(t, "a1", resolved[0].Resolved)

	// idempotent: already-resolved entries are untouched
	assert.Empty(t, l.ResolveDeferred("555", "a2"))
	e, _ := l.Get(ClientKey("c1"))
	assert.Equal(t, "a1", e.Resolved)

	assert.Empty(t, l.ResolveDeferred("", "a2"))
	l.Close()
}

func TestResolveDeferredSkipsOwnRequest(t *testing.T) {
	l := New(nil)
	l.Open(AgentKey("a1", "555"), types.CallAudio, "555", time.Minute)

	assert.Empty(t, l.ResolveDeferred("555", "a1"))
	l.Close()
}

func TestWithdrawAndOfferedTo(t *testing.T) {
	l := New(nil)
	l.Open(ClientKey("c1"), types.CallAudio, "", time.Minute)
	l.SetNotified(ClientKey("c1"), []string{"a1", "a2"})

	offered := l.OfferedTo("a2")
	require.Len(t, offered, 1)

	assert.True(t, l.Withdraw(ClientKey("c1"), "a2"))
	assert.False(t, l.Withdraw(ClientKey("c1"), "a2"))
	assert.Empty(t, l.OfferedTo("a2"))

	e, _ := l.Get(ClientKey("c1"))
	assert.Equal(t, []string{"a1"}, e.Targets())
	l.Close()
}

func TestCloseStopsAllTimers(t *testing.T) {
	l, fired, mu := expiring()
	l.Open(ClientKey("c1"), types.CallAudio, "", 20*time.Millisecond)
	l.Open(ClientKey("c2"), types.CallAudio, "", 20*time.Millisecond)

	assert.Equal(t, 2, l.Close())
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *fired)
}

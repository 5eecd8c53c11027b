package tracking

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(job, worker, conn string) Session {
	now := time.Now()
	return Session{JobID: job, WorkerID: worker, CustomerID: "c-" + job, ConnectionID: conn, StartedAt: now, LastUpdate: now}
}

func TestRegistry_CreateIsUniquePerJob(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Create(session("j1", "w1", "c1")))
	assert.ErrorIs(t, r.Create(session("j1", "w2", "c2")), ErrSessionExists)

	s, ok := r.Get("j1")
	require.True(t, ok)
	assert.Equal(t, "w1", s.WorkerID)
}

func TestRegistry_UpdateKeepsIdentity(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(session("j1", "w1", "c1")))

	later := time.Now().Add(time.Minute)
	s, err := r.Update("j1", func(s *Session) {
		s.WorkerID = "intruder"
		s.LastUpdate = later
	})
	require.NoError(t, err)
	assert.Equal(t, "w1", s.WorkerID)
	assert.Equal(t, later, s.LastUpdate)

	_, err = r.Update("missing", func(*Session) {})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(session("j1", "w1", "c1")))

	_, ok := r.Remove("j1")
	assert.True(t, ok)
	_, ok = r.Remove("j1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_ConnectionLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(session("j1", "w1", "conn-a")))
	require.NoError(t, r.Create(session("j2", "w1", "conn-a")))
	require.NoError(t, r.Create(session("j3", "w2", "conn-b")))

	s, ok := r.FindByConnection("conn-b")
	require.True(t, ok)
	assert.Equal(t, "j3", s.JobID)

	_, ok = r.FindByConnection("conn-z")
	assert.False(t, ok)

	owned := r.ListByConnection("conn-a")
	assert.Len(t, owned, 2)
	assert.Equal(t, 3, r.Len())
	assert.Empty(t, r.ListByConnection("conn-z"))
}

func TestRegistry_ListActiveIsASnapshot(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	for i := 0; i < 3; i++ {
		s := session(fmt.Sprintf("j%d", i), "w", "c")
		s.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, r.Create(s))
	}

	list := r.ListActive()
	require.Len(t, list, 3)
	assert.Equal(t, "j0", list[0].JobID)
	assert.Equal(t, "j2", list[2].JobID)

	list[0].WorkerID = "changed"
	got, _ := r.Get("j0")
	assert.Equal(t, "w", got.WorkerID)
}

func TestRegistry_ConcurrentCreateSameJob(t *testing.T) {
	r := NewRegistry()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Create(session("j1", fmt.Sprintf("w%d", i), "c")) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

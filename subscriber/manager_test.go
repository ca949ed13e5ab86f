package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateOrRefreshIdempotent(t *testing.T) {
	m := NewManager[string]()
	t0 := time.Unix(0, 0)

	sub, created := m.CreateOrRefresh("a", t0, 5*time.Second, nil)
	require.True(t, created)
	require.Equal(t, 1, m.Len())

	sub2, created2 := m.CreateOrRefresh("a", t0.Add(2*time.Second), 10*time.Second, nil)
	require.False(t, created2)
	require.Same(t, sub, sub2)
	require.Equal(t, 1, m.Len())
	require.Equal(t, 10*time.Second, sub.Timeout)
}

func TestExpiryOrdering(t *testing.T) {
	m := NewManager[int]()
	t0 := time.Unix(0, 0)

	m.CreateOrRefresh(1, t0, 5*time.Second, nil)                    // deadline 5
	m.CreateOrRefresh(2, t0.Add(3*time.Second), 5*time.Second, nil) // deadline 8
	m.CreateOrRefresh(3, t0.Add(6*time.Second), 5*time.Second, nil) // deadline 11

	all := m.All()
	require.Len(t, all, 3)
	require.Equal(t, []int{1, 2, 3}, []int{all[0].Key, all[1].Key, all[2].Key})

	// Deadlines are 5s, 8s, 11s respectively; at t=6s only subscriber 1
	// has passed its deadline. See DESIGN.md's note on spec scenario S4.
	expired := m.Expired(t0.Add(6 * time.Second))
	require.Len(t, expired, 1)
	require.Equal(t, 1, expired[0].Key)
}

func TestExpiryOutOfOrderTimeouts(t *testing.T) {
	m := NewManager[string]()
	t0 := time.Unix(0, 0)

	m.CreateOrRefresh("long", t0, 100*time.Second, nil)
	m.CreateOrRefresh("short", t0.Add(1*time.Second), 1*time.Second, nil)

	all := m.All()
	require.Equal(t, "short", all[0].Key, "short timeout subscriber must sort to the front despite being created second")
	require.Equal(t, "long", all[1].Key)
}

func TestRemove(t *testing.T) {
	m := NewManager[string]()
	t0 := time.Unix(0, 0)
	m.CreateOrRefresh("a", t0, time.Second, nil)
	require.True(t, m.Remove("a"))
	require.False(t, m.Remove("a"))
	require.Equal(t, 0, m.Len())
}

func TestIsOfflineBoundary(t *testing.T) {
	s := &Subscriber[string]{LastHeartbeat: time.Unix(0, 0), Timeout: 5 * time.Second}
	require.False(t, s.IsOffline(time.Unix(0, 0).Add(4*time.Second)))
	require.True(t, s.IsOffline(time.Unix(0, 0).Add(5*time.Second)), "offline at exactly last_heartbeat+timeout")
	require.True(t, s.IsOffline(time.Unix(0, 0).Add(6*time.Second)))
}

package trip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_SerializesKey(t *testing.T) {
	var lt lockTable

	unlock := lt.lock("veh_1|rte_1")

	acquired := make(chan struct{})
	go func() {
		u := lt.lock("veh_1|rte_1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	default:
	}

	unlock()
	<-acquired
}

func TestLockTable_RemovesIdleEntries(t *testing.T) {
	var lt lockTable

	unlock := lt.lock("veh_1|rte_1")
	other := lt.lock("veh_2|rte_1")
	require.Len(t, lt.locks, 2)

	unlock()
	other()
	assert.Empty(t, lt.locks, "released keys must not accumulate")
}

func TestLockTable_ContendedEntrySurvivesUntilLastRelease(t *testing.T) {
	var lt lockTable

	first := lt.lock("veh_1|rte_1")

	done := make(chan struct{})
	go func() {
		u := lt.lock("veh_1|rte_1")
		u()
		close(done)
	}()

	first()
	<-done
	assert.Empty(t, lt.locks)
}

package chatlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SameChatIDSerializes(t *testing.T) {
	table := New(time.Minute)

	unlock := table.Lock("chat-1")
	unlocked := make(chan struct{})
	go func() {
		defer close(unlocked)
		second := table.Lock("chat-1")
		second()
	}()

	select {
	case <-unlocked:
		t.Fatal("second Lock acquired before first was released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}

func TestLock_DifferentChatIDsDoNotContend(t *testing.T) {
	table := New(time.Minute)

	unlockA := table.Lock("chat-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		defer close(done)
		unlockB := table.Lock("chat-b")
		unlockB()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct chatID contended on the same lock")
	}
}

func TestSweep_EvictsOnlyIdleUnlockedEntries(t *testing.T) {
	table := New(time.Minute)

	unlock := table.Lock("idle")
	unlock()

	stillHeld := table.Lock("busy")
	defer stillHeld()

	cleaned := table.Sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, cleaned)

	_, ok := table.entries.Load("idle")
	assert.False(t, ok)
	_, ok = table.entries.Load("busy")
	assert.True(t, ok)
}

func TestSweep_LeavesRecentEntries(t *testing.T) {
	table := New(time.Minute)

	unlock := table.Lock("recent")
	unlock()

	cleaned := table.Sweep(time.Now())
	require.Equal(t, 0, cleaned)

	_, ok := table.entries.Load("recent")
	assert.True(t, ok)
}

func TestStop_SafeToCallRepeatedly(t *testing.T) {
	table := New(time.Minute)
	table.StartSweeper()
	table.Stop()
	table.Stop()
}

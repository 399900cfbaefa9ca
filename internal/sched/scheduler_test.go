package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
)

func TestRunAfterFiresInOrder(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Stop()

	var order []int
	done := make(chan struct{})

	s.RunAfter(30*time.Millisecond, func() { order = append(order, 2) })
	s.RunAfter(10*time.Millisecond, func() { order = append(order, 1) })
	s.RunAfter(50*time.Millisecond, func() {
		order = append(order, 3)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled tasks")
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestCancelPreventsTaskFromRunning(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Stop()

	var ran atomic.Bool
	id := s.RunAfter(20*time.Millisecond, func() { ran.Store(true) })

	if ok := s.Cancel(id); !ok {
		t.Fatal("Cancel reported the task was not pending")
	}
	if ok := s.Cancel(id); ok {
		t.Error("Cancel on an already-cancelled task should report false")
	}

	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran anyway")
	}
}

func TestWaitUntilNextMsReflectsEarliestTask(t *testing.T) {
	s := New(nil)

	if ms := s.WaitUntilNextMs(); ms != -1 {
		t.Errorf("WaitUntilNextMs on empty schedule = %d, want -1", ms)
	}

	s.RunAfter(5*time.Second, func() {})
	id := s.RunAfter(200*time.Millisecond, func() {})

	ms := s.WaitUntilNextMs()
	if ms < 0 || ms > 250 {
		t.Errorf("WaitUntilNextMs = %d, want roughly <= 200", ms)
	}

	s.Cancel(id)
	ms = s.WaitUntilNextMs()
	if ms < 4000 {
		t.Errorf("WaitUntilNextMs after cancelling the soonest task = %d, want close to 5000", ms)
	}
}

func TestScheduleHangupRequestsTimeoutOnChannel(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Stop()

	ch := channel.New("a", newNoopTech(), nil)
	ScheduleHangup(s, ch, time.Now().Add(20*time.Millisecond))

	deadline := time.After(2 * time.Second)
	for {
		if ch.CheckHangup()&channel.SoftHangupTimeout != 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for whentohangup to fire")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

package cdr

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDetachQueuesAndRunDrainsBatch(t *testing.T) {
	var mu sync.Mutex
	var posted []*Record
	reg := NewRegistry()
	reg.Register(BackendFunc{BackendName: "capture", Func: func(batch *Record) error {
		mu.Lock()
		for r := batch; r != nil; r = r.BatchNext {
			posted = append(posted, r)
		}
		mu.Unlock()
		return nil
	}})
	q := NewQueue(reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	a, b := New(), New()
	a.Channel, b.Channel = "SIP/1", "SIP/2"
	q.Detach(a)
	q.Detach(b)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(posted)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for queue to drain")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if !a.IsPosted() || !b.IsPosted() {
		t.Error("expected both detached records to be marked posted")
	}
}

func TestDetachAfterCloseClosesToImmediatePost(t *testing.T) {
	var postedDirect bool
	reg := NewRegistry()
	reg.Register(BackendFunc{BackendName: "capture", Func: func(batch *Record) error {
		postedDirect = true
		return nil
	}})
	q := NewQueue(reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	q.Detach(New())
	if !postedDirect {
		t.Error("expected Detach after Run has stopped to post immediately")
	}
}

func TestRegistryFanOutContinuesAfterOneBackendFails(t *testing.T) {
	var secondRan bool
	reg := NewRegistry()
	reg.Register(BackendFunc{BackendName: "broken", Func: func(batch *Record) error {
		return errBackendFailed
	}})
	reg.Register(BackendFunc{BackendName: "fine", Func: func(batch *Record) error {
		secondRan = true
		return nil
	}})

	r := New()
	err := reg.Post(r)
	if err == nil {
		t.Error("expected Post to report the failing backend's error")
	}
	if !secondRan {
		t.Error("expected the second backend to still run after the first failed")
	}
	if !r.IsPosted() {
		t.Error("expected the record marked posted regardless of backend errors")
	}
}

func TestRegistryUnregisterStopsDispatch(t *testing.T) {
	var ran bool
	reg := NewRegistry()
	reg.Register(BackendFunc{BackendName: "temp", Func: func(batch *Record) error {
		ran = true
		return nil
	}})
	reg.Unregister("temp")
	reg.Post(New())
	if ran {
		t.Error("expected unregistered backend to not run")
	}
}

type errBackendFailedType struct{}

func (errBackendFailedType) Error() string { return "simulated backend failure" }

var errBackendFailed = errBackendFailedType{}

package cdr

import (
	"testing"
	"time"
)

func TestInitSetsIdentityAndDefaults(t *testing.T) {
	DefaultAMAFlags = AMADocumentation
	DefaultAccountCode = "acct1"
	r := New()
	r.Init("SIP/1-0001", "Alice", "1001", "uid-1")

	if r.Channel != "SIP/1-0001" || r.CallerIDName != "Alice" || r.CallerIDNum != "1001" || r.UniqueID != "uid-1" {
		t.Fatalf("Init did not set identity fields: %+v", r)
	}
	if r.AccountCode != "acct1" {
		t.Errorf("AccountCode = %q, want acct1", r.AccountCode)
	}
}

func TestDispositionOnlyIncreases(t *testing.T) {
	r := New()
	r.raiseDispositionLocked(DispositionAnswered)
	r.raiseDispositionLocked(DispositionNoAnswer)
	if r.Disposition != DispositionAnswered {
		t.Errorf("Disposition = %v, want it to stay ANSWERED", r.Disposition)
	}
	r.raiseDispositionLocked(DispositionFailed)
	if r.Disposition != DispositionFailed {
		t.Errorf("Disposition = %v, want FAILED after a genuine raise", r.Disposition)
	}
}

func TestLockFreezesMostMutatorsButNotAnswerOrEnd(t *testing.T) {
	r := New()
	r.StartCall()
	r.Lock()

	r.SetApp("Dial", "SIP/bob")
	if r.LastApp != "" {
		t.Error("SetApp should be a no-op while locked")
	}

	r.Answer()
	if r.AnswerTime.IsZero() || r.Disposition != DispositionAnswered {
		t.Error("Answer must run even while locked")
	}

	r.End()
	if r.EndTime.IsZero() {
		t.Error("End must run even while locked")
	}
}

func TestBusyAndFailedSetDispositionAndEnd(t *testing.T) {
	r := New()
	r.StartCall()
	r.Busy()
	if r.Disposition != DispositionBusy || r.EndTime.IsZero() {
		t.Errorf("Busy: disposition=%v endTime=%v", r.Disposition, r.EndTime)
	}

	r2 := New()
	r2.StartCall()
	r2.Answer()
	r2.Failed()
	if r2.Disposition != DispositionFailed {
		t.Errorf("Failed must override ANSWERED unconditionally, got %v", r2.Disposition)
	}
}

func TestEndComputesDurationAndBillsec(t *testing.T) {
	r := New()
	r.StartTime = time.Now().Add(-10 * time.Second)
	r.AnswerTime = time.Now().Add(-8 * time.Second)
	r.End()
	if r.DurationSec < 9 || r.DurationSec > 11 {
		t.Errorf("DurationSec = %d, want ~10", r.DurationSec)
	}
	if r.BillSec < 7 || r.BillSec > 9 {
		t.Errorf("BillSec = %d, want ~8", r.BillSec)
	}
}

func TestVarsAndBuiltinGetVar(t *testing.T) {
	r := New()
	r.SetVar("custom", "value1")
	if v, ok := r.GetVar("custom"); !ok || v != "value1" {
		t.Errorf("GetVar(custom) = %q,%v", v, ok)
	}
	r.Disposition = DispositionAnswered
	if v, ok := r.GetVar("disposition"); !ok || v != "ANSWERED" {
		t.Errorf("GetVar(disposition) = %q,%v", v, ok)
	}
}

func TestSerializeVariablesIsSortedAndDeterministic(t *testing.T) {
	r := New()
	r.SetVar("zeta", "1")
	r.SetVar("alpha", "2")
	got := r.SerializeVariables(",")
	want := "alpha=2,zeta=1"
	if got != want {
		t.Errorf("SerializeVariables = %q, want %q", got, want)
	}
}

func TestAppendChainsAndMarksChild(t *testing.T) {
	root := New()
	child := New()
	got := Append(root, child)
	if got != root {
		t.Fatal("Append should return the original head")
	}
	if root.Next != child {
		t.Fatal("expected child appended to root.Next")
	}
	if child.flags&FlagChild == 0 {
		t.Error("expected appended record to carry FlagChild")
	}
}

func TestDupCopiesFieldsAndMarksChild(t *testing.T) {
	r := New()
	r.Channel = "SIP/1"
	r.SetVar("k", "v")
	dup := r.Dup()

	if dup == r {
		t.Fatal("Dup must return a distinct record")
	}
	if dup.Channel != "SIP/1" {
		t.Errorf("Dup did not copy Channel")
	}
	if dup.flags&FlagChild == 0 {
		t.Error("Dup must mark FlagChild")
	}
	dup.SetVar("k", "changed")
	if v, _ := r.GetVar("k"); v != "v" {
		t.Error("Dup must deep-copy vars, not alias the original map")
	}
}

func TestResetClearsFieldsAndRespectsKeepVars(t *testing.T) {
	r := New()
	r.StartCall()
	r.Answer()
	r.End()
	r.SetVar("kept", "1")

	reg := NewRegistry()
	q := NewQueue(reg)
	r.Reset(ResetSkipIfPosted, true, q)

	if !r.StartTime.IsZero() || !r.EndTime.IsZero() || r.Disposition != DispositionNoAnswer {
		t.Errorf("Reset did not clear timing/disposition: %+v", r)
	}
	if v, ok := r.GetVar("kept"); !ok || v != "1" {
		t.Error("Reset with keepVars=true must preserve existing variables")
	}

	r.SetVar("dropped", "1")
	r.Reset(ResetSkipIfPosted, false, q)
	if _, ok := r.GetVar("dropped"); ok {
		t.Error("Reset with keepVars=false must clear variables")
	}
}

func TestResetForcePostSubmitsBeforeClearing(t *testing.T) {
	var posted *Record
	reg := NewRegistry()
	reg.Register(BackendFunc{BackendName: "capture", Func: func(batch *Record) error {
		posted = batch
		return nil
	}})
	q := NewQueue(reg)

	r := New()
	r.Channel = "SIP/1"
	r.StartCall()
	r.Answer()
	r.End()

	r.Reset(ResetForcePost, false, q)

	if posted == nil || posted.Channel != "SIP/1" {
		t.Fatal("ResetForcePost must post the record to the registry before clearing")
	}
	if !r.StartTime.IsZero() {
		t.Error("Reset must still clear fields after posting")
	}
}

func TestIsPostedAndMarkPosted(t *testing.T) {
	r := New()
	if r.IsPosted() {
		t.Fatal("new record should not be posted")
	}
	r.markPosted()
	if !r.IsPosted() {
		t.Error("expected IsPosted true after markPosted")
	}
}

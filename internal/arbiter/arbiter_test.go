package arbiter

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/internal/backend"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

// fakeBackend records actions and fails on demand.
type fakeBackend struct {
	fail  bool
	calls []protocol.Action
}

func (f *fakeBackend) Apply(a protocol.Action) backend.Result {
	f.calls = append(f.calls, a)
	if f.fail {
		return backend.Result{Message: "backend unreachable"}
	}
	return backend.Result{Success: true, Message: a.String() + " ok"}
}

func (f *fakeBackend) Close() error { return nil }

func newTestArbiter(fb *fakeBackend) (*Arbiter, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(fb, zerolog.Nop(), mock), mock
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name    string
		actions []protocol.Action
		want    protocol.RobotState
	}{
		{"starts disabled, enable", []protocol.Action{protocol.Enable}, protocol.Enabled},
		{"enable then disable", []protocol.Action{protocol.Enable, protocol.Disable}, protocol.Disabled},
		{"estop from enabled", []protocol.Action{protocol.Enable, protocol.EStop}, protocol.EStopped},
		{"estop from disabled", []protocol.Action{protocol.EStop}, protocol.EStopped},
		{"estop repeated", []protocol.Action{protocol.EStop, protocol.EStop}, protocol.EStopped},
		{"disable is idempotent", []protocol.Action{protocol.Disable, protocol.Disable}, protocol.Disabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arb, _ := newTestArbiter(&fakeBackend{})
			var rec CommandRecord
			for _, action := range tt.actions {
				rec = arb.Apply(action, "op-1")
			}
			if !rec.Success {
				t.Errorf("final Apply not successful: %+v", rec)
			}
			if arb.State() != tt.want {
				t.Errorf("State() = %v, want %v", arb.State(), tt.want)
			}
		})
	}
}

func TestEStopIsSticky(t *testing.T) {
	fb := &fakeBackend{}
	arb, _ := newTestArbiter(fb)

	arb.Apply(protocol.EStop, "op-1")
	calls := len(fb.calls)

	rec := arb.Apply(protocol.Enable, "op-2")
	if rec.Success {
		t.Fatal("Enable accepted while e-stopped")
	}
	if rec.Message != "rejected: invalid transition" {
		t.Errorf("rejection message = %q", rec.Message)
	}
	if arb.State() != protocol.EStopped {
		t.Errorf("State() = %v after rejected enable, want EStopped", arb.State())
	}
	if len(fb.calls) != calls {
		t.Error("rejected command reached the backend")
	}

	// Disable clears the latch, then Enable is accepted again.
	if rec := arb.Apply(protocol.Disable, "op-2"); !rec.Success {
		t.Fatalf("Disable from EStopped rejected: %+v", rec)
	}
	if rec := arb.Apply(protocol.Enable, "op-2"); !rec.Success {
		t.Fatalf("Enable after Disable rejected: %+v", rec)
	}
	if arb.State() != protocol.Enabled {
		t.Errorf("State() = %v, want Enabled", arb.State())
	}
}

func TestBackendFailureKeepsState(t *testing.T) {
	fb := &fakeBackend{fail: true}
	arb, _ := newTestArbiter(fb)

	rec := arb.Apply(protocol.Enable, "op-1")
	if rec.Success {
		t.Fatal("Apply reported success for failing backend")
	}
	if rec.Message != "backend unreachable" {
		t.Errorf("record message = %q, want backend message", rec.Message)
	}
	if arb.State() != protocol.Disabled {
		t.Errorf("State() = %v after failed enable, want Disabled", arb.State())
	}

	// The failed attempt is still the recorded last command.
	last := arb.LastCommand()
	if last == nil || last.Success || last.IssuerID != "op-1" {
		t.Errorf("LastCommand() = %+v", last)
	}
}

func TestRecordOverwrittenOnEveryAttempt(t *testing.T) {
	arb, mock := newTestArbiter(&fakeBackend{})

	if arb.LastCommand() != nil {
		t.Fatal("LastCommand() not nil before first attempt")
	}

	arb.Apply(protocol.Enable, "op-1")
	mock.Add(30 * time.Millisecond)
	arb.Apply(protocol.EStop, "op-2")
	mock.Add(30 * time.Millisecond)
	rejected := arb.Apply(protocol.Enable, "op-1")

	last := arb.LastCommand()
	if last == nil {
		t.Fatal("LastCommand() = nil")
	}
	if last.Success || last.IssuerID != "op-1" || last.Action != protocol.Enable {
		t.Errorf("LastCommand() = %+v, want the rejected enable", last)
	}
	if !last.AppliedAt.Equal(rejected.AppliedAt) {
		t.Errorf("AppliedAt = %v, want %v", last.AppliedAt, rejected.AppliedAt)
	}

	// The returned copy does not alias internal state.
	last.IssuerID = "tampered"
	if arb.LastCommand().IssuerID != "op-1" {
		t.Error("LastCommand() returned aliased record")
	}
}

func TestOutcomeWireForm(t *testing.T) {
	arb, mock := newTestArbiter(&fakeBackend{})
	rec := arb.Apply(protocol.EStop, "op-9")

	out := rec.Outcome()
	if out.IssuerID != "op-9" || out.Action != protocol.EStop || !out.Success {
		t.Errorf("Outcome() = %+v", out)
	}
	if out.Timestamp != mock.Now().UnixMilli() {
		t.Errorf("Outcome().Timestamp = %d, want %d", out.Timestamp, mock.Now().UnixMilli())
	}
}

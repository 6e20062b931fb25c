package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-coordination/internal/models"
)

type fakeChannel struct {
	name string
	fail bool

	mu    sync.Mutex
	sent  []Event
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("provider down")
	}
	f.sent = append(f.sent, e)
	return nil
}

func testEvent() Event {
	return Event{
		Kind: "ride_booked",
		Ride: models.Ride{
			ID:     "r1",
			Pickup: models.Point{Address: "MG Road"},
			Drop:   models.Point{Address: "Koramangala"},
		},
		RiderEmail: "rider@test",
	}
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	email := &fakeChannel{name: "email"}
	sms := &fakeChannel{name: "sms"}
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), email, sms)

	d.Dispatch(testEvent())
	d.Drain()

	if len(email.sent) != 1 || len(sms.sent) != 1 {
		t.Fatalf("sent email=%d sms=%d, want 1 each", len(email.sent), len(sms.sent))
	}
}

// One channel failing must not stop the others, and the caller never sees
// the failure at all.
func TestDispatchToleratesPartialFailure(t *testing.T) {
	email := &fakeChannel{name: "email", fail: true}
	sms := &fakeChannel{name: "sms"}
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), email, sms)

	d.Dispatch(testEvent())
	d.Drain()

	if email.calls != 1 {
		t.Fatalf("failing channel attempted %d times, want 1", email.calls)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("healthy channel sent %d, want 1", len(sms.sent))
	}
}

func TestDispatchNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(testEvent()) // must not panic
}

func TestDispatchNoChannels(t *testing.T) {
	d := NewDispatcher(nil)
	d.Dispatch(testEvent())
	d.Drain()
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	slow := &fakeChannel{name: "slow"}
	d := NewDispatcher(nil, slowChannel{slow})

	start := time.Now()
	d.Dispatch(testEvent())
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("dispatch blocked for %s", elapsed)
	}
	d.Drain()
}

type slowChannel struct{ inner *fakeChannel }

func (s slowChannel) Name() string { return s.inner.Name() }

func (s slowChannel) Send(ctx context.Context, e Event) error {
	time.Sleep(100 * time.Millisecond)
	return s.inner.Send(ctx, e)
}

func TestSubjectForKnownKinds(t *testing.T) {
	e := testEvent()
	subject, body := subjectFor(e)
	if subject != "Ride booked" {
		t.Fatalf("subject = %q", subject)
	}
	if body == "" {
		t.Fatal("empty body")
	}

	e.Kind = "something_else"
	subject, _ = subjectFor(e)
	if subject != "Ride update" {
		t.Fatalf("fallback subject = %q", subject)
	}
}

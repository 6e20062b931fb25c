package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

// Event describes a lifecycle transition worth telling humans about.
type Event struct {
	Kind        string `json:"kind"` // ride_booked, ride_accepted, ride_completed, ride_cancelled
	Ride        models.Ride
	RiderEmail  string
	RiderPhone  string
	DriverEmail string
}

// Channel is one delivery mechanism. Send failures are expected and must be
// tolerated; a channel never gets to veto a lifecycle transition.
type Channel interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Dispatcher fans an event out to every channel concurrently and
// independently: one channel failing while another succeeds is normal.
type Dispatcher struct {
	Channels []Channel
	Logger   *slog.Logger
	Timeout  time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{Channels: channels, Logger: logger, Timeout: 5 * time.Second}
}

// Dispatch is fire-and-forget: it returns immediately and never reports an
// error to the caller. Outcomes land in the log and the metrics.
func (d *Dispatcher) Dispatch(e Event) {
	if d == nil {
		return
	}
	for _, ch := range d.Channels {
		ch := ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
			defer cancel()
			observability.NotifyDispatched.WithLabelValues(ch.Name()).Inc()
			if err := ch.Send(ctx, e); err != nil {
				observability.NotifyFailures.WithLabelValues(ch.Name()).Inc()
				if d.Logger != nil {
					d.Logger.Warn("notification failed",
						"channel", ch.Name(), "kind", e.Kind, "ride_id", e.Ride.ID, "error", err)
				}
				return
			}
			if d.Logger != nil {
				d.Logger.Debug("notification sent",
					"channel", ch.Name(), "kind", e.Kind, "ride_id", e.Ride.ID)
			}
		}()
	}
}

// Drain waits for in-flight sends, used on shutdown and in tests.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// subjectFor renders the human-facing one-liner for an event.
func subjectFor(e Event) (subject, body string) {
	switch e.Kind {
	case "ride_booked":
		return "Ride booked", "Your ride from " + e.Ride.Pickup.Address + " to " + e.Ride.Drop.Address + " is booked."
	case "ride_accepted":
		return "Driver on the way", "A driver accepted your ride from " + e.Ride.Pickup.Address + "."
	case "ride_completed":
		return "Ride completed", "Your ride to " + e.Ride.Drop.Address + " is complete. Thanks for riding."
	case "ride_cancelled":
		return "Ride cancelled", "Your ride from " + e.Ride.Pickup.Address + " was cancelled."
	default:
		return "Ride update", "Your ride status changed."
	}
}

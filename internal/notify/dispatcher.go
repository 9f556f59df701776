package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TypeQueueCalled = "queue_called"

// Event is a notification raised by the booking core. The core guarantees
// each call action raises exactly one event; delivery beyond that is the
// dispatcher's concern.
type Event struct {
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"userId"`
	BookingID uuid.UUID `json:"bookingId"`
	Message   string    `json:"message"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher records events without delivering them anywhere. Used by
// binaries that have no connected clients, such as the queue worker.
type LogDispatcher struct {
	Log zerolog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.Log.Info().
		Str("type", ev.Type).
		Str("user_id", ev.UserID.String()).
		Str("booking_id", ev.BookingID.String()).
		Msg("notification dispatched")
	return nil
}

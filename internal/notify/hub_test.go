package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Subscribe(w, r, userID)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()
	conn := dialHub(t, hub, userID)

	ev := Event{
		Type:      TypeQueueCalled,
		UserID:    userID,
		BookingID: uuid.New(),
		Message:   "Queue 3: it is your turn",
	}

	// Registration races the dial return; retry briefly.
	require.Eventually(t, func() bool {
		require.NoError(t, hub.Dispatch(context.Background(), ev))
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var got Event
		return conn.ReadJSON(&got) == nil && got.BookingID == ev.BookingID
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHubDropsWhenNoSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	err := hub.Dispatch(context.Background(), Event{
		Type:      TypeQueueCalled,
		UserID:    uuid.New(),
		BookingID: uuid.New(),
	})
	assert.NoError(t, err, "events for offline users are dropped, not errors")
}

func TestHubFansOutToAllConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()
	first := dialHub(t, hub, userID)
	second := dialHub(t, hub, userID)

	ev := Event{Type: TypeQueueCalled, UserID: userID, BookingID: uuid.New()}

	require.Eventually(t, func() bool {
		require.NoError(t, hub.Dispatch(context.Background(), ev))

		ok := true
		for _, conn := range []*websocket.Conn{first, second} {
			_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			var got Event
			if conn.ReadJSON(&got) != nil || got.BookingID != ev.BookingID {
				ok = false
			}
		}
		return ok
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHubIgnoresOtherUsers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := uuid.New()
	conn := dialHub(t, hub, subscriber)

	// Event targets a different user; the subscriber must not receive it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, hub.Dispatch(context.Background(), Event{
		Type:      TypeQueueCalled,
		UserID:    uuid.New(),
		BookingID: uuid.New(),
	}))

	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var got Event
	assert.Error(t, conn.ReadJSON(&got), "read should time out with no event")
}

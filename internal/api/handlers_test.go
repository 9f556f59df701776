package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking-service/internal/booking"
	"github.com/clinicdesk/booking-service/internal/notify"
	"github.com/clinicdesk/booking-service/internal/schedule"
)

// stubLocker runs the critical section inline. Lock contention behavior is
// covered by the redis package tests.
type stubLocker struct{}

func (stubLocker) WithDateLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// stubRepo is a minimal in-memory booking.Repository for handler tests.
type stubRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]booking.Patient
	bookings map[uuid.UUID]booking.Booking
	seq      int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		patients: make(map[uuid.UUID]booking.Patient),
		bookings: make(map[uuid.UUID]booking.Booking),
	}
}

func (s *stubRepo) nextInstant() time.Time {
	s.seq++
	return time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

func (s *stubRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*booking.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, booking.ErrPatientNotFound
	}
	return &p, nil
}

func (s *stubRepo) Create(_ context.Context, b *booking.Booking, capacity int) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	occupied := 0
	for _, existing := range s.bookings {
		if existing.Date.Equal(b.Date) && existing.Time == b.Time && existing.Occupying() {
			occupied++
		}
	}
	if occupied >= capacity {
		return nil, booking.ErrSlotConflict
	}

	stored := *b
	now := s.nextInstant()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.bookings[stored.ID] = stored
	out := stored
	return &out, nil
}

func (s *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	out := b
	return &out, nil
}

func (s *stubRepo) ListByDate(_ context.Context, date time.Time) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.Date.Equal(date) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (s *stubRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubRepo) ListDatesWithBookings(_ context.Context, from, to time.Time) ([]time.Time, error) {
	return nil, nil
}

func (s *stubRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to booking.Status, fields booking.StatusFields) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = to
	if fields.CallTime != nil {
		ct := *fields.CallTime
		b.CallTime = &ct
	}
	if fields.CancelReason != nil {
		b.CancelReason = *fields.CancelReason
	}
	b.UpdatedAt = s.nextInstant()
	s.bookings[id] = b
	out := b
	return &out, nil
}

func (s *stubRepo) UpdateSymptoms(_ context.Context, id uuid.UUID, symptoms string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	if b.Status != booking.StatusPending {
		return nil, booking.ErrSymptomsLocked
	}
	b.Symptoms = symptoms
	s.bookings[id] = b
	out := b
	return &out, nil
}

func (s *stubRepo) SetAdminNotes(_ context.Context, id uuid.UUID, notes string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	b.AdminNotes = notes
	s.bookings[id] = b
	out := b
	return &out, nil
}

func (s *stubRepo) SetQueueNumbers(_ context.Context, date time.Time, assignments []booking.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.bookings {
		if b.Date.Equal(date) {
			b.QueueNumber = nil
			s.bookings[id] = b
		}
	}
	for _, a := range assignments {
		if b, ok := s.bookings[a.BookingID]; ok {
			n := a.QueueNumber
			b.QueueNumber = &n
			s.bookings[a.BookingID] = b
		}
	}
	return nil
}

func (s *stubRepo) Revision(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (s *stubRepo) CountByStatus(_ context.Context, date time.Time) (map[booking.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[booking.Status]int)
	for _, b := range s.bookings {
		if b.Date.Equal(date) {
			counts[b.Status]++
		}
	}
	return counts, nil
}

func (s *stubRepo) InsertEvent(_ context.Context, _ booking.EventLog) error { return nil }

type apiFixture struct {
	server    *httptest.Server
	repo      *stubRepo
	hub       *notify.Hub
	patientID uuid.UUID
	adminID   uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := newStubRepo()
	patientID := uuid.New()
	repo.patients[patientID] = booking.Patient{ID: patientID, Name: "Somsri"}

	svc := booking.NewService(repo, stubLocker{}, booking.ServiceConfig{
		Grid: schedule.GridConfig{Hours: schedule.DefaultHours(), SlotMinutes: 30},
	}, zerolog.Nop(),
		booking.WithClock(schedule.FixedClock{Instant: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}),
	)

	hub := notify.NewHub(zerolog.Nop())

	handler := NewRouter(RouterConfig{
		Service:  svc,
		Hub:      hub,
		Registry: prometheus.NewRegistry(),
		Log:      zerolog.Nop(),
		Env:      "test",
		Version:  "test",
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &apiFixture{
		server:    server,
		repo:      repo,
		hub:       hub,
		patientID: patientID,
		adminID:   uuid.New(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) asPatient() map[string]string {
	return map[string]string{"X-User-ID": f.patientID.String()}
}

func (f *apiFixture) asAdmin() map[string]string {
	return map[string]string{"X-User-ID": f.adminID.String(), "X-User-Role": "admin"}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) createBooking(t *testing.T, slot string) BookingResponse {
	t.Helper()
	resp := f.do(t, "POST", "/bookings", CreateBookingRequest{
		Date:     "2025-03-03",
		Time:     slot,
		Symptoms: "fever and cough",
	}, f.asPatient())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[BookingResponse](t, resp)
}

func TestCreateBookingEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")
	assert.Equal(t, f.patientID, created.PatientID)
	assert.Equal(t, "2025-03-03", created.Date)
	assert.Equal(t, "18:30", created.Time)
	assert.Equal(t, "pending", created.Status)
	require.NotNil(t, created.QueueNumber)
	assert.Equal(t, 1, *created.QueueNumber)
	require.NotNil(t, created.EstimatedCallAt)
	assert.Equal(t, time.Date(2025, time.March, 3, 18, 40, 0, 0, time.UTC), created.EstimatedCallAt.UTC())
}

func TestCreateBookingRequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "POST", "/bookings", CreateBookingRequest{
		Date: "2025-03-03", Time: "18:30", Symptoms: "fever",
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		req  CreateBookingRequest
	}{
		{"bad date", CreateBookingRequest{Date: "03/03/2025", Time: "18:30", Symptoms: "fever"}},
		{"bad time", CreateBookingRequest{Date: "2025-03-03", Time: "half past six", Symptoms: "fever"}},
		{"off-grid slot", CreateBookingRequest{Date: "2025-03-03", Time: "18:45", Symptoms: "fever"}},
		{"missing symptoms", CreateBookingRequest{Date: "2025-03-03", Time: "18:30"}},
		{"past date", CreateBookingRequest{Date: "2025-02-24", Time: "18:30", Symptoms: "fever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, "POST", "/bookings", tt.req, f.asPatient())
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCreateBookingSlotConflict(t *testing.T) {
	f := newAPIFixture(t)

	f.createBooking(t, "18:30")

	resp := f.do(t, "POST", "/bookings", CreateBookingRequest{
		Date: "2025-03-03", Time: "18:30", Symptoms: "headache",
	}, f.asPatient())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "slot_conflict", body.Error)
}

func TestAvailabilityEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.createBooking(t, "18:30")

	resp := f.do(t, "GET", "/availability/2025-03-03", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[AvailabilityResponse](t, resp)
	assert.True(t, body.Available)
	assert.NotContains(t, body.Slots, "18:30")
	assert.Contains(t, body.Slots, "16:30")
}

func TestAvailabilityBadDate(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "GET", "/availability/not-a-date", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHoursEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "GET", "/schedule/hours/2025-03-03", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[HoursResponse](t, resp)
	assert.False(t, body.Closed)
	assert.Equal(t, "16:30", body.Open)
	assert.Equal(t, "21:00", body.Close)
}

func TestGetBookingOwnership(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")

	// Owner reads it.
	resp := f.do(t, "GET", "/bookings/"+created.ID.String(), nil, f.asPatient())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A different patient gets 403.
	stranger := map[string]string{"X-User-ID": uuid.NewString()}
	resp = f.do(t, "GET", "/bookings/"+created.ID.String(), nil, stranger)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")
	base := "/bookings/" + created.ID.String()

	resp := f.do(t, "POST", base+"/confirm", nil, f.asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confirmed := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "confirmed", confirmed.Status)

	resp = f.do(t, "POST", base+"/call", nil, f.asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	called := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "in-progress", called.Status)
	assert.NotNil(t, called.CallTime)

	resp = f.do(t, "POST", base+"/complete", nil, f.asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	completed := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "completed", completed.Status)
	assert.Nil(t, completed.EstimatedCallAt, "completed bookings carry no call estimate")
}

func TestInvalidTransitionEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")

	// pending -> completed is not a legal move.
	resp := f.do(t, "POST", "/bookings/"+created.ID.String()+"/complete", nil, f.asAdmin())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_status_transition", body.Error)
	assert.Contains(t, body.Details, "pending")
	assert.Contains(t, body.Details, "completed")
}

func TestAdminEndpointsRejectPatients(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")
	base := "/bookings/" + created.ID.String()

	for _, path := range []string{base + "/confirm", base + "/call", base + "/complete"} {
		resp := f.do(t, "POST", path, nil, f.asPatient())
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "POST %s", path)
		resp.Body.Close()
	}

	resp := f.do(t, "GET", "/bookings?date=2025-03-03", nil, f.asPatient())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")

	// Empty body falls back to the default reason.
	resp := f.do(t, "POST", "/bookings/"+created.ID.String()+"/cancel", nil, f.asPatient())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancelled := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, booking.DefaultCancelReason, cancelled.CancelReason)
	assert.Nil(t, cancelled.QueueNumber)
	assert.Nil(t, cancelled.EstimatedCallAt)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")

	resp := f.do(t, "PUT", "/bookings/"+created.ID.String()+"/status", UpdateStatusRequest{
		Status: "confirmed",
	}, f.asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "confirmed", body.Status)

	resp = f.do(t, "PUT", "/bookings/"+created.ID.String()+"/status", UpdateStatusRequest{
		Status: "archived",
	}, f.asAdmin())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSymptomsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createBooking(t, "18:30")
	path := "/bookings/" + created.ID.String() + "/symptoms"

	resp := f.do(t, "PATCH", path, UpdateSymptomsRequest{Symptoms: "sore throat"}, f.asPatient())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[BookingResponse](t, resp)
	assert.Equal(t, "sore throat", body.Symptoms)

	// Locked after confirmation.
	confirm := f.do(t, "POST", "/bookings/"+created.ID.String()+"/confirm", nil, f.asAdmin())
	require.Equal(t, http.StatusOK, confirm.StatusCode)
	confirm.Body.Close()

	resp = f.do(t, "PATCH", path, UpdateSymptomsRequest{Symptoms: "never mind"}, f.asPatient())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestListByPatientEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.createBooking(t, "18:30")
	f.createBooking(t, "19:00")

	resp := f.do(t, "GET", "/patients/"+f.patientID.String()+"/bookings", nil, f.asPatient())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[[]BookingResponse](t, resp)
	assert.Len(t, body, 2)

	// Patients cannot list someone else's bookings.
	resp = f.do(t, "GET", "/patients/"+uuid.NewString()+"/bookings", nil, f.asPatient())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestSummaryEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.createBooking(t, "18:30")
	f.createBooking(t, "19:00")

	resp := f.do(t, "GET", "/bookings/summary?date=2025-03-03", nil, f.asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[SummaryResponse](t, resp)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 2, body.ByStatus["pending"])
}

func TestQueueSubscribeThroughRouter(t *testing.T) {
	f := newAPIFixture(t)

	// The upgrade goes through the full middleware chain, which must not
	// break response hijacking.
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/queue"
	header := http.Header{"X-User-ID": []string{f.patientID.String()}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err, "websocket dial through the router must succeed")
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	ev := notify.Event{
		Type:      notify.TypeQueueCalled,
		UserID:    f.patientID,
		BookingID: uuid.New(),
		Message:   "Queue 1: it is your turn",
	}

	// Registration races the dial return; retry briefly.
	require.Eventually(t, func() bool {
		require.NoError(t, f.hub.Dispatch(context.Background(), ev))
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var got notify.Event
		return conn.ReadJSON(&got) == nil && got.BookingID == ev.BookingID
	}, 2*time.Second, 50*time.Millisecond)
}

func TestQueueSubscribeRequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/queue"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthLiveness(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "GET", "/health/live", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

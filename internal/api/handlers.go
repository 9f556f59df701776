package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/booking"
	"github.com/clinicdesk/booking-service/internal/schedule"
)

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		avail, err := svc.Availability(r.Context(), date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		slots := make([]string, len(avail.Slots))
		for i, s := range avail.Slots {
			slots[i] = s.String()
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Date:      schedule.DateKey(avail.Date),
			Available: avail.Available,
			Slots:     slots,
			Reason:    string(avail.Reason),
		})
	}
}

func hoursHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		resp := HoursResponse{Date: schedule.DateKey(date), Closed: true}
		if w2, open := svc.OperatingWindow(date); open {
			resp.Open = w2.Open.String()
			resp.Close = w2.Close.String()
			resp.Closed = false
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}
		slot, err := schedule.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "time must be HH:MM")
			return
		}

		created, err := svc.Create(r.Context(), actor.ID, date, slot, req.Symptoms)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(created, svc.EstimatedCallAt(*created)))
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, svc.EstimatedCallAt(*b)))
	}
}

func updateStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		status, known := booking.ParseStatus(req.Status)
		if !known {
			writeError(w, http.StatusBadRequest, "validation_error", "unknown status "+strconv.Quote(req.Status))
			return
		}

		updated, err := svc.Transition(r.Context(), actor, id, status, booking.TransitionOptions{
			CancelReason: req.CancelReason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated, svc.EstimatedCallAt(*updated)))
	}
}

func confirmBookingHandler(svc *booking.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor booking.Actor, id uuid.UUID, svc *booking.Service) (*booking.Booking, error) {
		return svc.Confirm(r.Context(), actor, id)
	})
}

func callBookingHandler(svc *booking.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor booking.Actor, id uuid.UUID, svc *booking.Service) (*booking.Booking, error) {
		return svc.Call(r.Context(), actor, id)
	})
}

func completeBookingHandler(svc *booking.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor booking.Actor, id uuid.UUID, svc *booking.Service) (*booking.Booking, error) {
		return svc.Complete(r.Context(), actor, id)
	})
}

func cancelBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelBookingRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req) // empty body = default reason
		}

		updated, err := svc.Cancel(r.Context(), actor, id, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated, svc.EstimatedCallAt(*updated)))
	}
}

func updateSymptomsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateSymptomsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		updated, err := svc.UpdateSymptoms(r.Context(), actor, id, req.Symptoms)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated, svc.EstimatedCallAt(*updated)))
	}
}

func adminNotesHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req AdminNotesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		updated, err := svc.SetAdminNotes(r.Context(), actor, id, req.AdminNotes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated, svc.EstimatedCallAt(*updated)))
	}
}

func listByDateHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "date query parameter is required")
			return
		}
		date, err := schedule.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}

		bookings, err := svc.ListByDate(r.Context(), date)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponses(svc, bookings))
	}
}

func listByPatientHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}
		if actor.Role == booking.ActorPatient && actor.ID != patientID {
			writeError(w, http.StatusForbidden, "forbidden", "patients may only list their own bookings")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		bookings, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponses(svc, bookings))
	}
}

func summaryHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "date query parameter is required")
			return
		}
		date, err := schedule.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}

		summary, err := svc.Summary(r.Context(), date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		byStatus := make(map[string]int, len(summary.ByStatus))
		for status, n := range summary.ByStatus {
			byStatus[string(status)] = n
		}
		writeJSON(w, http.StatusOK, SummaryResponse{
			Date:     schedule.DateKey(summary.Date),
			Total:    summary.Total,
			ByStatus: byStatus,
		})
	}
}

func transitionHandler(svc *booking.Service, do func(*http.Request, booking.Actor, uuid.UUID, *booking.Service) (*booking.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		updated, err := do(r, actor, id, svc)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated, svc.EstimatedCallAt(*updated)))
	}
}

func toBookingResponses(svc *booking.Service, bookings []booking.Booking) []BookingResponse {
	out := make([]BookingResponse, len(bookings))
	for i := range bookings {
		out[i] = toBookingResponse(&bookings[i], svc.EstimatedCallAt(bookings[i]))
	}
	return out
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := schedule.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/booking"
)

type CreateBookingRequest struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Time     string `json:"time"` // HH:MM slot label
	Symptoms string `json:"symptoms"`
}

type UpdateStatusRequest struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancelReason,omitempty"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpdateSymptomsRequest struct {
	Symptoms string `json:"symptoms"`
}

type AdminNotesRequest struct {
	AdminNotes string `json:"adminNotes"`
}

type BookingResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patientId"`
	Date            string     `json:"appointmentDate"`
	Time            string     `json:"appointmentTime"`
	Status          string     `json:"status"`
	QueueNumber     *int       `json:"queueNumber,omitempty"`
	EstimatedCallAt *time.Time `json:"estimatedCallTime,omitempty"`
	CallTime        *time.Time `json:"callTime,omitempty"`
	Symptoms        string     `json:"symptoms"`
	AdminNotes      string     `json:"adminNotes,omitempty"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type AvailabilityResponse struct {
	Date      string   `json:"date"`
	Available bool     `json:"available"`
	Slots     []string `json:"slots"`
	Reason    string   `json:"reason,omitempty"`
}

type SummaryResponse struct {
	Date     string         `json:"date"`
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

type HoursResponse struct {
	Date   string `json:"date"`
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
	Closed bool   `json:"closed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(b *booking.Booking, estimate time.Time) BookingResponse {
	resp := BookingResponse{
		ID:           b.ID,
		PatientID:    b.PatientID,
		Date:         b.Date.Format("2006-01-02"),
		Time:         b.Time.String(),
		Status:       string(b.Status),
		QueueNumber:  b.QueueNumber,
		CallTime:     b.CallTime,
		Symptoms:     b.Symptoms,
		AdminNotes:   b.AdminNotes,
		CancelReason: b.CancelReason,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if b.Occupying() && b.Status != booking.StatusCompleted {
		est := estimate
		resp.EstimatedCallAt = &est
	}
	return resp
}

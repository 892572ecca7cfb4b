package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// FocusAreas are the engines a demo can concentrate on; the first is the default.
var FocusAreas = []string{"Synthesis Engine", "beYOU Engine", "Engine Ocean", "Academic Mapping"}

// DemoBooking is a request for a free 1:1 demo session.
type DemoBooking struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Phone     string        `json:"phone"`
	Grade     string        `json:"grade"`
	FocusArea string        `json:"focus_area"`
	Status    BookingStatus `json:"status"`
	Location  Location      `json:"location"`
	CreatedAt time.Time     `json:"created_at"`
}

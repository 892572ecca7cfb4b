package models

import "time"

// Location is the coarse geolocation stamped on visitor records.
type Location struct {
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Flag    string  `json:"flag"`
}

// UnknownLocation is used when a visitor never shared a location.
func UnknownLocation() Location {
	return Location{City: "Unknown", Country: "Global"}
}

// IsZero reports whether no location data was set.
func (l Location) IsZero() bool {
	return l == Location{}
}

// Visitor is an anonymous or self-identified site session.
type Visitor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Location  Location  `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

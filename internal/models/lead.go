package models

import "time"

// Lead is captured the first time a visitor asks the site chat a question.
type Lead struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	FirstQuery string    `json:"first_query"`
	Location   Location  `json:"location"`
	Device     string    `json:"device"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"created_at"`
}

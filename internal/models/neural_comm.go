package models

import "time"

// CommStatus tracks how the founder has handled a voice message.
type CommStatus string

const (
	CommUnread   CommStatus = "UNREAD"
	CommReplied  CommStatus = "REPLIED"
	CommArchived CommStatus = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s CommStatus) Valid() bool {
	switch s {
	case CommUnread, CommReplied, CommArchived:
		return true
	}
	return false
}

// NeuralComm is a finalized voice message left through the capture widget.
type NeuralComm struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	AudioDataURL string     `json:"audio_data_url,omitempty"`
	Duration     int        `json:"duration"` // seconds
	Location     Location   `json:"location"`
	Status       CommStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

package capture

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"curiousminds/internal/models"
)

// NewRecord builds the NeuralComm handed to the persister. Each contact field resolves
// as typed value, then known default, then placeholder.
func NewRecord(id Identity, contact Contact, encodedAudio string, elapsed int, now time.Time) *models.NeuralComm {
	var defaults Defaults
	if id.Defaults != nil {
		defaults = *id.Defaults
	}
	location := models.UnknownLocation()
	if defaults.Location != nil && !defaults.Location.IsZero() {
		location = *defaults.Location
	}
	return &models.NeuralComm{
		ID:           uuid.NewString(),
		UserID:       id.SessionID,
		Name:         firstNonBlank(contact.Name, defaults.Name, PlaceholderName),
		Phone:        firstNonBlank(contact.Phone, defaults.Phone, PlaceholderPhone),
		AudioDataURL: encodedAudio,
		Duration:     elapsed,
		Location:     location,
		Status:       models.CommUnread,
		CreatedAt:    now.UTC(),
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"curiousminds/internal/models"
)

func TestNewRecordFallbacks(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pune := &models.Location{City: "Pune", Country: "India", Lat: 18.5, Lng: 73.8, Flag: "IN"}

	cases := []struct {
		name      string
		defaults  *Defaults
		contact   Contact
		wantName  string
		wantPhone string
		wantLoc   models.Location
	}{
		{"all blank", nil, Contact{}, PlaceholderName, PlaceholderPhone, models.UnknownLocation()},
		{"whitespace is blank", nil, Contact{Name: "  ", Phone: "\t"}, PlaceholderName, PlaceholderPhone, models.UnknownLocation()},
		{"typed name only", nil, Contact{Name: "Alex"}, "Alex", PlaceholderPhone, models.UnknownLocation()},
		{"typed name with known phone", &Defaults{Name: "Priya", Phone: "+91 98765"}, Contact{Name: "Alex"}, "Alex", "+91 98765", models.UnknownLocation()},
		{"known defaults and location", &Defaults{Name: "Priya", Phone: "+91 98765", Location: pune}, Contact{}, "Priya", "+91 98765", *pune},
		{"empty location falls back", &Defaults{Location: &models.Location{}}, Contact{}, PlaceholderName, PlaceholderPhone, models.UnknownLocation()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			comm := NewRecord(Identity{SessionID: "sess-1", Defaults: tc.defaults}, tc.contact, "data:x", 12, now)
			assert.Equal(t, tc.wantName, comm.Name)
			assert.Equal(t, tc.wantPhone, comm.Phone)
			assert.Equal(t, tc.wantLoc, comm.Location)
			assert.Equal(t, "sess-1", comm.UserID)
			assert.Equal(t, 12, comm.Duration)
			assert.Equal(t, "data:x", comm.AudioDataURL)
			assert.Equal(t, models.CommUnread, comm.Status)
			assert.Equal(t, now, comm.CreatedAt)
			assert.NotEmpty(t, comm.ID)
		})
	}
}

// Package capture implements the hover-to-record voice message widget.
//
// A Widget owns exactly one capture session. Every transition runs on the widget's
// own event loop goroutine, so callers may invoke its methods from any goroutine.
//
//	IDLE -> COUNTDOWN -> RECORDING -> FORM -> SUCCESS -> IDLE
//
// Pointer-leave during COUNTDOWN and cancel from FORM return to IDLE. A refused
// microphone returns to IDLE without producing a record.
package capture

import (
	"context"
	"errors"
	"time"

	"curiousminds/internal/models"
)

type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusCountdown Status = "COUNTDOWN"
	StatusRecording Status = "RECORDING"
	StatusForm      Status = "FORM"
	StatusSuccess   Status = "SUCCESS"
)

const (
	CountdownStart   = 3
	MaxRecordSeconds = 30
	TickInterval     = time.Second
	SuccessDisplay   = 3 * time.Second

	PlaceholderName  = "Visitor"
	PlaceholderPhone = "---"

	defaultAcquireTimeout = 10 * time.Second
)

var (
	// ErrPermissionDenied is the only failure a Microphone is expected to report.
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrWrongStatus      = errors.New("operation not allowed in current status")
	ErrClosed           = errors.New("widget closed")
)

// Microphone acquires an input stream. Any error is treated as ErrPermissionDenied.
type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream delivers audio fragments in arrival order. After Release the provider must
// stop capturing and close the Chunks channel.
type Stream interface {
	Chunks() <-chan []byte
	Release()
}

// Encoder turns the concatenated fragments into a transport-safe text payload.
type Encoder interface {
	Encode(mime string, data []byte) (string, error)
}

// Persister receives finished voice messages. It must not block.
type Persister interface {
	SaveVoiceMessage(comm *models.NeuralComm)
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Defaults are the contact fields already known about the visitor.
type Defaults struct {
	Name     string
	Phone    string
	Location *models.Location
}

// Identity is the read-only snapshot of who is using the widget.
type Identity struct {
	SessionID string
	Defaults  *Defaults
}

// State is a copy of the session suitable for rendering.
type State struct {
	Status             Status  `json:"status"`
	CountdownRemaining int     `json:"countdown_remaining"`
	ElapsedSeconds     int     `json:"elapsed_seconds"`
	Chunks             int     `json:"chunks"`
	HasAudio           bool    `json:"has_audio"`
	Stopping           bool    `json:"stopping"`
	Contact            Contact `json:"contact"`
}

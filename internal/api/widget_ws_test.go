package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curiousminds/internal/audio"
	"curiousminds/internal/capture"
	"curiousminds/internal/models"
	"curiousminds/internal/service/visitor"
)

func dialWidget(t *testing.T, ts *testServer, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextMessage reads frames until one of type typ arrives.
func nextMessage(t *testing.T, conn *websocket.Conn, typ string) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ {
			return msg
		}
	}
}

func waitWidgetState(t *testing.T, conn *websocket.Conn, match func(capture.State) bool) capture.State {
	t.Helper()
	for {
		msg := nextMessage(t, conn, "state")
		require.NotNil(t, msg.State)
		if match(*msg.State) {
			return *msg.State
		}
	}
}

func waitWidgetStatus(t *testing.T, conn *websocket.Conn, status capture.Status) capture.State {
	t.Helper()
	return waitWidgetState(t, conn, func(st capture.State) bool { return st.Status == status })
}

func sendWidget(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func sendAudio(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
}

// startRecording hovers, runs the countdown on the fake clock and grants the mic.
func startRecording(t *testing.T, ts *testServer, conn *websocket.Conn) {
	t.Helper()
	sendWidget(t, conn, clientMessage{Type: "pointer_enter"})
	waitWidgetStatus(t, conn, capture.StatusCountdown)
	for want := capture.CountdownStart - 1; want > 0; want-- {
		ts.clock.Advance(capture.TickInterval)
		waitWidgetState(t, conn, func(st capture.State) bool { return st.CountdownRemaining == want })
	}
	ts.clock.Advance(capture.TickInterval)
	nextMessage(t, conn, "mic_request")
	sendWidget(t, conn, clientMessage{Type: "mic_granted"})
	waitWidgetStatus(t, conn, capture.StatusRecording)
}

// submitAndLoad submits the form and returns the record once the worker saved it.
func submitAndLoad(t *testing.T, ts *testServer, conn *websocket.Conn, msg clientMessage) (*models.NeuralComm, *models.NeuralComm) {
	t.Helper()
	msg.Type = "submit"
	sendWidget(t, conn, msg)
	submitted := nextMessage(t, conn, "submitted")
	require.NotNil(t, submitted.Comm)

	var saved *models.NeuralComm
	require.Eventually(t, func() bool {
		var err error
		saved, err = ts.voice.Get(context.Background(), submitted.Comm.ID)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
	return submitted.Comm, saved
}

func savedAudio(t *testing.T, comm *models.NeuralComm) string {
	t.Helper()
	mime, data, err := audio.DecodeDataURL(comm.AudioDataURL)
	require.NoError(t, err)
	assert.Equal(t, audio.MimeWebM, mime)
	return string(data)
}

func TestVoiceWidgetRecordAndSubmit(t *testing.T) {
	ts := newTestServer(t, nil)
	v, err := ts.visitors.Register(context.Background(), visitor.RegisterRequest{
		Name:     "Sam",
		Phone:    "555-0100",
		Location: &models.Location{City: "Lisbon", Country: "Portugal"},
	})
	require.NoError(t, err)

	conn := dialWidget(t, ts, "?session_id="+v.ID)
	session := nextMessage(t, conn, "session")
	assert.Equal(t, v.ID, session.SessionID)
	initial := waitWidgetStatus(t, conn, capture.StatusIdle)
	assert.Equal(t, capture.CountdownStart, initial.CountdownRemaining)

	startRecording(t, ts, conn)
	sendAudio(t, conn, []byte("abc"))
	sendAudio(t, conn, []byte("def"))
	sendWidget(t, conn, clientMessage{Type: "stop"})
	nextMessage(t, conn, "mic_release")
	sendWidget(t, conn, clientMessage{Type: "mic_closed"})

	form := waitWidgetStatus(t, conn, capture.StatusForm)
	assert.True(t, form.HasAudio)
	assert.Equal(t, "Sam", form.Contact.Name)

	summary, saved := submitAndLoad(t, ts, conn, clientMessage{Name: "Alex"})
	assert.Equal(t, "Alex", summary.Name)
	assert.Equal(t, "555-0100", summary.Phone)
	assert.Equal(t, "Lisbon", summary.Location.City)
	assert.Empty(t, summary.AudioDataURL)

	assert.Equal(t, v.ID, saved.UserID)
	assert.Equal(t, "abcdef", savedAudio(t, saved))

	ts.clock.Advance(capture.SuccessDisplay)
	waitWidgetStatus(t, conn, capture.StatusIdle)
}

func TestVoiceWidgetKeepsFramesFlushedAfterRelease(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	nextMessage(t, conn, "session")

	startRecording(t, ts, conn)
	sendWidget(t, conn, clientMessage{Type: "stop"})
	nextMessage(t, conn, "mic_release")

	// a recorder without a timeslice delivers everything on stop
	sendAudio(t, conn, []byte("final-flush"))
	sendWidget(t, conn, clientMessage{Type: "mic_closed"})
	waitWidgetStatus(t, conn, capture.StatusForm)

	_, saved := submitAndLoad(t, ts, conn, clientMessage{})
	assert.Equal(t, "final-flush", savedAudio(t, saved))
}

func TestVoiceWidgetFlushTimeoutFinalizes(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	nextMessage(t, conn, "session")

	startRecording(t, ts, conn)
	sendAudio(t, conn, []byte("partial"))
	sendWidget(t, conn, clientMessage{Type: "stop"})
	nextMessage(t, conn, "mic_release")

	// the browser never confirms; the widget still reaches the form
	ts.clock.Advance(recorderFlushTimeout)
	form := waitWidgetStatus(t, conn, capture.StatusForm)
	assert.True(t, form.HasAudio)

	_, saved := submitAndLoad(t, ts, conn, clientMessage{})
	assert.Equal(t, "partial", savedAudio(t, saved))
}

func TestVoiceWidgetKeepsEveryFrameInOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	nextMessage(t, conn, "session")

	startRecording(t, ts, conn)
	var want []byte
	for i := 0; i < 3*chunkBuffer; i++ {
		frame := []byte{byte(i), byte(i >> 8)}
		want = append(want, frame...)
		sendAudio(t, conn, frame)
	}
	sendWidget(t, conn, clientMessage{Type: "stop"})
	nextMessage(t, conn, "mic_release")
	sendWidget(t, conn, clientMessage{Type: "mic_closed"})
	waitWidgetStatus(t, conn, capture.StatusForm)

	_, saved := submitAndLoad(t, ts, conn, clientMessage{})
	assert.Equal(t, string(want), savedAudio(t, saved))
}

func TestVoiceWidgetAnonymousSessionIsKept(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "?session_id=browser-session-42")
	session := nextMessage(t, conn, "session")
	assert.Equal(t, "browser-session-42", session.SessionID)

	startRecording(t, ts, conn)
	sendAudio(t, conn, []byte("hello"))
	sendWidget(t, conn, clientMessage{Type: "stop"})
	nextMessage(t, conn, "mic_release")
	sendWidget(t, conn, clientMessage{Type: "mic_closed"})
	waitWidgetStatus(t, conn, capture.StatusForm)

	summary, saved := submitAndLoad(t, ts, conn, clientMessage{})
	assert.Equal(t, "browser-session-42", saved.UserID)
	assert.Equal(t, capture.PlaceholderName, summary.Name)
	assert.Equal(t, capture.PlaceholderPhone, summary.Phone)
}

func TestVoiceWidgetMicDenied(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	session := nextMessage(t, conn, "session")
	assert.NotEmpty(t, session.SessionID)
	waitWidgetStatus(t, conn, capture.StatusIdle)

	sendWidget(t, conn, clientMessage{Type: "pointer_enter"})
	waitWidgetStatus(t, conn, capture.StatusCountdown)
	for i := 0; i < capture.CountdownStart; i++ {
		ts.clock.Advance(capture.TickInterval)
		if i < capture.CountdownStart-1 {
			remaining := capture.CountdownStart - 1 - i
			waitWidgetState(t, conn, func(st capture.State) bool { return st.CountdownRemaining == remaining })
		}
	}
	nextMessage(t, conn, "mic_request")
	sendWidget(t, conn, clientMessage{Type: "mic_denied"})
	st := waitWidgetStatus(t, conn, capture.StatusIdle)
	assert.Equal(t, capture.CountdownStart, st.CountdownRemaining)

	comms, err := ts.voice.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, comms)
}

func TestVoiceWidgetErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	nextMessage(t, conn, "session")

	sendWidget(t, conn, clientMessage{Type: "dance"})
	msg := nextMessage(t, conn, "error")
	assert.Equal(t, "unknown message type", msg.Error)

	sendWidget(t, conn, clientMessage{Type: "submit"})
	msg = nextMessage(t, conn, "error")
	assert.Equal(t, capture.ErrWrongStatus.Error(), msg.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = nextMessage(t, conn, "error")
	assert.Equal(t, "invalid message", msg.Error)

	// closing a recorder that was never opened is harmless
	sendWidget(t, conn, clientMessage{Type: "mic_closed"})
	sendWidget(t, conn, clientMessage{Type: "dance"})
	nextMessage(t, conn, "error")
}

func TestVoiceWidgetLeaveDuringCountdown(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialWidget(t, ts, "")
	nextMessage(t, conn, "session")
	waitWidgetStatus(t, conn, capture.StatusIdle)

	sendWidget(t, conn, clientMessage{Type: "pointer_enter"})
	waitWidgetStatus(t, conn, capture.StatusCountdown)
	ts.clock.Advance(capture.TickInterval)
	waitWidgetState(t, conn, func(st capture.State) bool { return st.CountdownRemaining == 2 })
	sendWidget(t, conn, clientMessage{Type: "pointer_leave"})
	st := waitWidgetStatus(t, conn, capture.StatusIdle)
	assert.Equal(t, capture.CountdownStart, st.CountdownRemaining)
}

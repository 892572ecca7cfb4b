package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"curiousminds/internal/capture"
	"curiousminds/internal/models"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsMaxFrameBytes = 1 << 20
	chunkBuffer     = 256
	// recorderFlushTimeout bounds the wait for the browser's final dataavailable
	// frames after mic_release.
	recorderFlushTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the widget is embedded on the marketing site, which is served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a text frame sent by the browser widget. Audio travels in
// binary frames.
type clientMessage struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type serverMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	State     *capture.State     `json:"state,omitempty"`
	Comm      *models.NeuralComm `json:"comm,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// widgetConn bridges one websocket to one capture widget. It is also the
// widget's microphone: acquiring asks the browser for permission and the
// binary frames that follow become the stream.
type widgetConn struct {
	conn   *websocket.Conn
	out    chan serverMessage
	done   chan struct{}
	clock  clockwork.Clock
	logger *zap.Logger

	mu     sync.Mutex
	grant  chan bool
	stream *wsStream
}

func (h *Handler) voiceWidget(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	identity := h.visitors.Identity(c.Request.Context(), c.Query("session_id"))
	mime := strings.TrimSpace(c.Query("mime"))
	if mime == "" {
		mime = h.mimeType
	}
	logger := h.logger.With(zap.String("session_id", identity.SessionID))

	wc := &widgetConn{
		conn:   conn,
		out:    make(chan serverMessage, 64),
		done:   make(chan struct{}),
		clock:  h.clock,
		logger: logger,
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wc.writeLoop()
	}()

	widget, err := capture.New(capture.Options{
		Microphone:     wc,
		Encoder:        h.encoder,
		Persister:      h.persister,
		Identity:       identity,
		Clock:          h.clock,
		Logger:         logger,
		MimeType:       mime,
		AcquireTimeout: h.micTimeout,
		OnChange: func(st capture.State) {
			wc.send(serverMessage{Type: "state", State: &st})
		},
	})
	if err != nil {
		logger.Error("create widget failed", zap.Error(err))
		close(wc.done)
		<-writerDone
		conn.Close()
		return
	}

	wc.send(serverMessage{Type: "session", SessionID: widget.SessionID()})
	st := widget.Snapshot()
	wc.send(serverMessage{Type: "state", State: &st})

	wc.readLoop(widget)

	// unmount: cancels timers and releases the device
	widget.Close()
	close(wc.done)
	<-writerDone
	conn.Close()
}

func (wc *widgetConn) readLoop(widget *capture.Widget) {
	for {
		kind, data, err := wc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				wc.logger.Debug("widget connection closed", zap.Error(err))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			wc.pushChunk(data)
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				wc.send(serverMessage{Type: "error", Error: "invalid message"})
				continue
			}
			wc.handle(widget, msg)
		}
	}
}

func (wc *widgetConn) handle(widget *capture.Widget, msg clientMessage) {
	var err error
	switch msg.Type {
	case "pointer_enter":
		err = widget.PointerEnter()
	case "pointer_leave":
		err = widget.PointerLeave()
	case "stop":
		err = widget.Stop()
	case "contact":
		err = widget.SetContact(capture.Contact{Name: msg.Name, Phone: msg.Phone})
	case "submit":
		if msg.Name != "" || msg.Phone != "" {
			if err = widget.SetContact(capture.Contact{Name: msg.Name, Phone: msg.Phone}); err != nil {
				break
			}
		}
		var comm *models.NeuralComm
		if comm, err = widget.Submit(); err == nil {
			summary := *comm
			summary.AudioDataURL = ""
			wc.send(serverMessage{Type: "submitted", Comm: &summary})
		}
	case "cancel":
		err = widget.Cancel()
	case "mic_granted":
		wc.resolveMic(true)
	case "mic_denied":
		wc.resolveMic(false)
	case "mic_closed":
		wc.endStream()
	default:
		err = errors.New("unknown message type")
	}
	if err != nil {
		wc.send(serverMessage{Type: "error", Error: err.Error()})
	}
}

// send queues msg for the writer. It gives up once the connection is closing.
func (wc *widgetConn) send(msg serverMessage) {
	select {
	case wc.out <- msg:
	case <-wc.done:
	}
}

// writeLoop is the only writer on the connection. After a failed write it keeps
// draining out so the widget never blocks on a dead peer.
func (wc *widgetConn) writeLoop() {
	failed := false
	for {
		select {
		case msg := <-wc.out:
			if failed {
				continue
			}
			wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wc.conn.WriteJSON(msg); err != nil {
				wc.logger.Debug("widget write failed", zap.Error(err))
				failed = true
				// unblocks readLoop, which unmounts the widget
				wc.conn.Close()
			}
		case <-wc.done:
			return
		}
	}
}

// Acquire asks the browser for the microphone and waits for its answer.
func (wc *widgetConn) Acquire(ctx context.Context) (capture.Stream, error) {
	grant := make(chan bool, 1)
	wc.mu.Lock()
	if wc.stream != nil {
		wc.mu.Unlock()
		return nil, errors.New("microphone already in use")
	}
	wc.grant = grant
	wc.mu.Unlock()

	defer func() {
		wc.mu.Lock()
		if wc.grant == grant {
			wc.grant = nil
		}
		wc.mu.Unlock()
	}()

	wc.send(serverMessage{Type: "mic_request"})

	// the widget bounds ctx with the configured mic timeout
	select {
	case ok := <-grant:
		if !ok {
			return nil, capture.ErrPermissionDenied
		}
	case <-ctx.Done():
		return nil, capture.ErrPermissionDenied
	case <-wc.done:
		return nil, capture.ErrPermissionDenied
	}

	stream := &wsStream{owner: wc, chunks: make(chan []byte, chunkBuffer), quit: make(chan struct{})}
	wc.mu.Lock()
	wc.stream = stream
	wc.mu.Unlock()
	return stream, nil
}

func (wc *widgetConn) resolveMic(ok bool) {
	wc.mu.Lock()
	grant := wc.grant
	wc.grant = nil
	wc.mu.Unlock()
	if grant != nil {
		grant <- ok
	}
}

// pushChunk hands a binary frame to the open stream. It blocks while the widget
// catches up, which stalls the reader and so the browser, instead of losing audio.
func (wc *widgetConn) pushChunk(data []byte) {
	stream := wc.currentStream()
	if stream == nil || len(data) == 0 {
		return
	}
	if !stream.push(data) {
		wc.logger.Debug("audio frame after recorder closed", zap.Int("bytes", len(data)))
	}
}

// endStream handles mic_closed: the browser's recorder has delivered its last frame.
func (wc *widgetConn) endStream() {
	if stream := wc.currentStream(); stream != nil {
		stream.close()
	}
}

func (wc *widgetConn) currentStream() *wsStream {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.stream
}

// wsStream is the browser's MediaRecorder as seen from the widget. A recorder
// started without a timeslice delivers all of its audio after stop, so the
// stream stays open past Release until the browser reports mic_closed.
type wsStream struct {
	owner  *widgetConn
	chunks chan []byte
	quit   chan struct{}

	// push holds sendMu for reading while it may block on chunks; close takes it
	// for writing before closing chunks.
	sendMu      sync.RWMutex
	releaseOnce sync.Once
	closeOnce   sync.Once
}

func (s *wsStream) Chunks() <-chan []byte { return s.chunks }

func (s *wsStream) push(data []byte) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.chunks <- data:
		return true
	case <-s.quit:
		return false
	}
}

// Release tells the browser to stop recording. Frames keep arriving until it
// answers mic_closed or recorderFlushTimeout passes.
func (s *wsStream) Release() {
	s.releaseOnce.Do(func() {
		timeout := s.owner.clock.After(recorderFlushTimeout)
		s.owner.send(serverMessage{Type: "mic_release"})
		go func() {
			select {
			case <-timeout:
				s.owner.logger.Debug("recorder flush timed out")
			case <-s.quit:
			case <-s.owner.done:
			}
			s.close()
		}()
	})
}

// close ends the stream; the widget finalizes once it drains chunks.
func (s *wsStream) close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.sendMu.Lock()
		close(s.chunks)
		s.sendMu.Unlock()

		s.owner.mu.Lock()
		if s.owner.stream == s {
			s.owner.stream = nil
		}
		s.owner.mu.Unlock()
	})
}

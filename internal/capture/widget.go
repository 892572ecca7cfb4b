package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"curiousminds/internal/logging"
	"curiousminds/internal/models"
)

type Options struct {
	Microphone Microphone
	Encoder    Encoder
	Persister  Persister
	Identity   Identity
	// Clock drives the countdown, auto-stop and reset timers; nil uses the real clock.
	Clock  clockwork.Clock
	Logger *zap.Logger
	// MimeType is passed to the Encoder together with the captured bytes.
	MimeType       string
	AcquireTimeout time.Duration
	// OnChange runs on the event loop after every transition and must not block.
	OnChange func(State)
}

// Widget is one mounted voice capture widget.
type Widget struct {
	mic            Microphone
	encoder        Encoder
	persister      Persister
	identity       Identity
	clock          clockwork.Clock
	logger         *zap.Logger
	mimeType       string
	acquireTimeout time.Duration
	onChange       func(State)

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// s is only touched by the event loop.
	s session
}

type session struct {
	status             Status
	countdownRemaining int
	elapsedSeconds     int
	audioChunks        [][]byte
	encodedAudio       string
	contact            Contact

	countdown  clockwork.Ticker
	recordTick clockwork.Ticker
	resetTimer clockwork.Timer
	stream     Stream
	acquiring  bool
	stopping   bool
}

// New mounts a widget in IDLE and starts its event loop. Close unmounts it.
func New(opts Options) (*Widget, error) {
	if opts.Microphone == nil {
		return nil, errors.New("microphone is required")
	}
	if opts.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if opts.Persister == nil {
		return nil, errors.New("persister is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.Identity.SessionID == "" {
		opts.Identity.SessionID = uuid.NewString()
	}
	w := &Widget{
		mic:            opts.Microphone,
		encoder:        opts.Encoder,
		persister:      opts.Persister,
		identity:       opts.Identity,
		clock:          opts.Clock,
		logger:         logging.OrNop(opts.Logger).With(zap.String("session_id", opts.Identity.SessionID)),
		mimeType:       opts.MimeType,
		acquireTimeout: opts.AcquireTimeout,
		onChange:       opts.OnChange,
		cmds:           make(chan func()),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	w.s.status = StatusIdle
	w.s.countdownRemaining = CountdownStart
	go w.run()
	return w, nil
}

// SessionID is the identifier stamped on records from this widget.
func (w *Widget) SessionID() string {
	return w.identity.SessionID
}

func (w *Widget) PointerEnter() error { return w.exec(w.onPointerEnter) }

func (w *Widget) PointerLeave() error { return w.exec(w.onPointerLeave) }

// Stop ends a recording early. Calling it again, or outside RECORDING, does nothing.
func (w *Widget) Stop() error { return w.exec(w.onStop) }

// SetContact replaces the optional name and phone. Only allowed in FORM.
func (w *Widget) SetContact(c Contact) error {
	var err error
	if execErr := w.exec(func() { err = w.onSetContact(c) }); execErr != nil {
		return execErr
	}
	return err
}

// Submit hands the voice message to the persister and shows SUCCESS.
func (w *Widget) Submit() (*models.NeuralComm, error) {
	var (
		comm *models.NeuralComm
		err  error
	)
	if execErr := w.exec(func() { comm, err = w.onSubmit() }); execErr != nil {
		return nil, execErr
	}
	return comm, err
}

// Cancel discards the captured audio from FORM.
func (w *Widget) Cancel() error {
	var err error
	if execErr := w.exec(func() { err = w.onCancel() }); execErr != nil {
		return execErr
	}
	return err
}

func (w *Widget) Snapshot() State {
	var st State
	if err := w.exec(func() { st = w.snapshot() }); err != nil {
		return State{Status: StatusIdle, CountdownRemaining: CountdownStart}
	}
	return st
}

// Close cancels pending timers, releases the microphone and stops the event loop.
func (w *Widget) Close() error {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
	return nil
}

// exec runs fn on the event loop and waits for it to finish.
func (w *Widget) exec(fn func()) error {
	finished := make(chan struct{})
	select {
	case w.cmds <- func() { fn(); close(finished) }:
	case <-w.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// post queues fn from a background goroutine; false once the loop has exited.
func (w *Widget) post(fn func()) bool {
	select {
	case w.cmds <- fn:
		return true
	case <-w.done:
		return false
	}
}

func (w *Widget) run() {
	defer close(w.done)
	for {
		var chunks <-chan []byte
		if w.s.stream != nil {
			chunks = w.s.stream.Chunks()
		}
		select {
		case fn := <-w.cmds:
			fn()
		case <-tickerC(w.s.countdown):
			w.onCountdownTick()
		case <-tickerC(w.s.recordTick):
			w.onRecordTick()
		case chunk, ok := <-chunks:
			if !ok {
				w.onCaptureClosed()
			} else {
				w.onChunk(chunk)
			}
		case <-timerC(w.s.resetTimer):
			w.s.resetTimer = nil
			w.resetSession()
			w.emit()
		case <-w.quit:
			w.teardown()
			return
		}
	}
}

func (w *Widget) onPointerEnter() {
	if w.s.status != StatusIdle {
		return
	}
	w.s.status = StatusCountdown
	w.s.countdownRemaining = CountdownStart
	w.s.countdown = w.clock.NewTicker(TickInterval)
	w.emit()
}

func (w *Widget) onPointerLeave() {
	// once the countdown has run out the widget is committed to recording
	if w.s.status != StatusCountdown || w.s.acquiring {
		return
	}
	w.stopCountdown()
	w.s.status = StatusIdle
	w.s.countdownRemaining = CountdownStart
	w.emit()
}

func (w *Widget) onCountdownTick() {
	if w.s.status != StatusCountdown || w.s.acquiring {
		return
	}
	w.s.countdownRemaining--
	if w.s.countdownRemaining <= 0 {
		w.s.countdownRemaining = 0
		w.stopCountdown()
		w.start()
	}
	w.emit()
}

func (w *Widget) stopCountdown() {
	if w.s.countdown != nil {
		w.s.countdown.Stop()
		w.s.countdown = nil
	}
}

// start requests the microphone. The request always runs to completion; its
// result is applied on the loop.
func (w *Widget) start() {
	w.s.acquiring = true
	mic := w.mic
	timeout := w.acquireTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		stream, err := mic.Acquire(ctx)
		delivered := w.post(func() { w.onAcquired(stream, err) })
		if !delivered && stream != nil {
			stream.Release()
		}
	}()
}

func (w *Widget) onAcquired(stream Stream, err error) {
	w.s.acquiring = false
	if err == nil && stream == nil {
		err = ErrPermissionDenied
	}
	if err != nil {
		if stream != nil {
			stream.Release()
		}
		w.logger.Info("microphone unavailable", zap.Error(err))
		w.resetSession()
		w.emit()
		return
	}
	w.s.stream = stream
	w.s.audioChunks = nil
	w.s.status = StatusRecording
	w.s.elapsedSeconds = 0
	w.s.recordTick = w.clock.NewTicker(TickInterval)
	w.logger.Debug("recording started")
	w.emit()
}

func (w *Widget) onChunk(chunk []byte) {
	if w.s.status != StatusRecording || len(chunk) == 0 {
		return
	}
	w.s.audioChunks = append(w.s.audioChunks, bytes.Clone(chunk))
}

func (w *Widget) onRecordTick() {
	if w.s.status != StatusRecording || w.s.stopping {
		return
	}
	w.s.elapsedSeconds++
	if w.s.elapsedSeconds >= MaxRecordSeconds {
		w.s.elapsedSeconds = MaxRecordSeconds
		w.stop()
	}
	w.emit()
}

func (w *Widget) onStop() {
	if w.s.status != StatusRecording || w.s.stopping {
		return
	}
	w.stop()
	w.emit()
}

// stop halts the auto-stop ticker and releases the device; finalize follows
// once the stream has closed its chunk channel.
func (w *Widget) stop() {
	if w.s.stopping {
		return
	}
	w.s.stopping = true
	if w.s.recordTick != nil {
		w.s.recordTick.Stop()
		w.s.recordTick = nil
	}
	if w.s.stream != nil {
		w.s.stream.Release()
	}
}

func (w *Widget) onCaptureClosed() {
	w.s.stream = nil
	if w.s.status != StatusRecording {
		return
	}
	// the provider may end the stream on its own, e.g. a revoked track
	if !w.s.stopping {
		w.s.stopping = true
		if w.s.recordTick != nil {
			w.s.recordTick.Stop()
			w.s.recordTick = nil
		}
	}
	w.finalize()
}

func (w *Widget) finalize() {
	data := bytes.Join(w.s.audioChunks, nil)
	mime := w.mimeType
	enc := w.encoder
	go func() {
		encoded, err := enc.Encode(mime, data)
		w.post(func() { w.onFinalized(encoded, err) })
	}()
}

func (w *Widget) onFinalized(encoded string, err error) {
	w.s.stopping = false
	if err != nil {
		w.logger.Warn("finalize recording failed", zap.Error(err))
		w.resetSession()
		w.emit()
		return
	}
	w.s.encodedAudio = encoded
	w.s.status = StatusForm
	w.s.contact = w.defaultContact()
	w.logger.Debug("recording finalized",
		zap.Int("elapsed_seconds", w.s.elapsedSeconds),
		zap.Int("chunks", len(w.s.audioChunks)),
	)
	w.emit()
}

func (w *Widget) onSetContact(c Contact) error {
	if w.s.status != StatusForm {
		return ErrWrongStatus
	}
	w.s.contact = c
	w.emit()
	return nil
}

func (w *Widget) onSubmit() (*models.NeuralComm, error) {
	if w.s.status != StatusForm {
		return nil, ErrWrongStatus
	}
	comm := NewRecord(w.identity, w.s.contact, w.s.encodedAudio, w.s.elapsedSeconds, w.clock.Now())
	w.persister.SaveVoiceMessage(comm)
	w.s.status = StatusSuccess
	w.s.resetTimer = w.clock.NewTimer(SuccessDisplay)
	w.logger.Info("voice message submitted", zap.String("comm_id", comm.ID), zap.Int("duration", comm.Duration))
	w.emit()
	return comm, nil
}

func (w *Widget) onCancel() error {
	if w.s.status != StatusForm {
		return ErrWrongStatus
	}
	w.resetSession()
	w.emit()
	return nil
}

// resetSession returns to IDLE and drops everything captured.
func (w *Widget) resetSession() {
	w.stopCountdown()
	if w.s.recordTick != nil {
		w.s.recordTick.Stop()
		w.s.recordTick = nil
	}
	if w.s.resetTimer != nil {
		w.s.resetTimer.Stop()
		w.s.resetTimer = nil
	}
	w.s.status = StatusIdle
	w.s.countdownRemaining = CountdownStart
	w.s.elapsedSeconds = 0
	w.s.audioChunks = nil
	w.s.encodedAudio = ""
	w.s.contact = Contact{}
	w.s.stopping = false
}

func (w *Widget) teardown() {
	w.resetSession()
	if w.s.stream != nil {
		w.s.stream.Release()
		w.s.stream = nil
	}
}

func (w *Widget) defaultContact() Contact {
	if d := w.identity.Defaults; d != nil {
		return Contact{Name: d.Name, Phone: d.Phone}
	}
	return Contact{}
}

func (w *Widget) snapshot() State {
	return State{
		Status:             w.s.status,
		CountdownRemaining: w.s.countdownRemaining,
		ElapsedSeconds:     w.s.elapsedSeconds,
		Chunks:             len(w.s.audioChunks),
		HasAudio:           w.s.encodedAudio != "",
		Stopping:           w.s.stopping,
		Contact:            w.s.contact,
	}
}

func (w *Widget) emit() {
	if w.onChange != nil {
		w.onChange(w.snapshot())
	}
}

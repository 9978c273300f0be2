package services

import (
	"strings"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"go.uber.org/zap"
)

type TranscriptionConfig struct {
	MaxRestarts          int
	RestartDelay         time.Duration
	NoSpeechRestartDelay time.Duration
	RetryDelay           time.Duration
	InterimClearDelay    time.Duration
}

// DefaultTranscriptionConfig returns the restart policy for a call direction.
// Incoming calls get fewer automatic restarts.
func DefaultTranscriptionConfig(direction domain.Direction) TranscriptionConfig {
	cfg := TranscriptionConfig{
		MaxRestarts:          5,
		RestartDelay:         2 * time.Second,
		NoSpeechRestartDelay: time.Second,
		RetryDelay:           5 * time.Second,
		InterimClearDelay:    time.Second,
	}
	if direction == domain.DirectionIncoming {
		cfg.MaxRestarts = 2
	}
	return cfg
}

// TranscriptionSession keeps one recognition engine running against the
// local audio track and emits finalized segments.
type TranscriptionSession struct {
	cfg       TranscriptionConfig
	engine    ports.RecognitionEngine
	onSegment func(text string)
	onRestart func()
	logger    *zap.SugaredLogger

	mu                sync.Mutex
	audio             ports.MediaTrack
	starting          bool
	listening         bool
	interim           string
	restarts          int
	lastError         domain.RecognitionErrorKind
	suppressNextEnd   bool
	noSpeechRestarted bool
	restartTimer      *time.Timer
	clearTimer        *time.Timer
}

// NewTranscriptionSession binds the session to engine. onSegment receives
// each finalized, trimmed segment; onRestart, if set, is told about every
// automatic restart.
func NewTranscriptionSession(
	engine ports.RecognitionEngine,
	cfg TranscriptionConfig,
	logger *zap.SugaredLogger,
	onSegment func(text string),
	onRestart func(),
) *TranscriptionSession {
	s := &TranscriptionSession{
		cfg:       cfg,
		engine:    engine,
		onSegment: onSegment,
		onRestart: onRestart,
		logger:    logger,
	}
	engine.SetHandler(s.handleEvent)
	return s
}

// Start begins listening on audio. It is a no-op while a start is pending or
// the engine is already listening. A manual start resets the restart budget.
func (s *TranscriptionSession) Start(audio ports.MediaTrack) error {
	if audio == nil || !audio.Enabled() {
		return domain.ErrNoAudioSource
	}
	if !s.engine.Supported() {
		return domain.ErrTranscriptionUnavailable
	}

	s.mu.Lock()
	if s.starting || s.listening {
		s.mu.Unlock()
		return nil
	}
	s.cancelRestartLocked()
	s.audio = audio
	s.restarts = 0
	s.noSpeechRestarted = false
	s.suppressNextEnd = false
	s.lastError = domain.RecognitionErrNone
	s.mu.Unlock()

	return s.launch()
}

func (s *TranscriptionSession) launch() error {
	s.mu.Lock()
	if s.audio == nil || s.starting || s.listening {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	audio := s.audio
	s.mu.Unlock()

	if err := s.engine.Start(audio); err != nil {
		s.mu.Lock()
		s.starting = false
		s.lastError = domain.RecognitionErrOther
		s.mu.Unlock()
		s.logger.Warnw("Speech recognition failed to start", "error", err)
		return err
	}

	// Stop may have run while the engine was starting.
	s.mu.Lock()
	stopped := s.audio == nil
	if stopped {
		s.starting = false
	}
	s.mu.Unlock()
	if stopped {
		_ = s.engine.Stop()
	}
	return nil
}

// Stop ends recognition and disables automatic restarts. Safe to call repeatedly.
func (s *TranscriptionSession) Stop() {
	s.mu.Lock()
	active := s.starting || s.listening
	s.audio = nil
	s.starting = false
	s.listening = false
	s.interim = ""
	s.suppressNextEnd = false
	s.cancelRestartLocked()
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.mu.Unlock()

	if active {
		if err := s.engine.Stop(); err != nil {
			s.logger.Debugw("Speech recognition stop failed", "error", err)
		}
	}
}

func (s *TranscriptionSession) handleEvent(ev domain.RecognitionEvent) {
	switch ev.Kind {
	case domain.RecognitionStart:
		s.mu.Lock()
		s.starting = false
		s.listening = s.audio != nil
		s.suppressNextEnd = false
		s.mu.Unlock()
		s.logger.Debugw("Speech recognition started")

	case domain.RecognitionResult:
		s.handleResult(ev.Text, ev.Final)

	case domain.RecognitionError:
		s.handleError(ev.Err)

	case domain.RecognitionEnd:
		s.handleEnd()
	}
}

func (s *TranscriptionSession) handleResult(text string, final bool) {
	s.mu.Lock()
	if s.audio == nil {
		s.mu.Unlock()
		return
	}
	s.interim = text
	if !final {
		s.mu.Unlock()
		return
	}

	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.cfg.InterimClearDelay, func() {
		s.mu.Lock()
		s.interim = ""
		s.clearTimer = nil
		s.mu.Unlock()
	})
	s.mu.Unlock()

	segment := strings.TrimSpace(text)
	if segment != "" && s.onSegment != nil {
		s.onSegment(segment)
	}
}

func (s *TranscriptionSession) handleError(kind domain.RecognitionErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = kind
	s.logger.Warnw("Speech recognition error", "kind", kind)

	switch kind {
	case domain.RecognitionErrNoSpeech:
		if !s.noSpeechRestarted {
			s.noSpeechRestarted = true
			s.scheduleRestartLocked(s.cfg.NoSpeechRestartDelay)
		}
	case domain.RecognitionErrAudioCapture, domain.RecognitionErrNotAllowed:
		// Needs an explicit Start once the device or permission is available.
		s.audio = nil
		s.starting = false
		s.listening = false
		s.cancelRestartLocked()
	case domain.RecognitionErrNetwork, domain.RecognitionErrAborted:
		s.suppressNextEnd = true
	default:
		s.scheduleRestartLocked(s.cfg.RetryDelay)
	}
}

func (s *TranscriptionSession) handleEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starting = false
	s.listening = false

	if s.suppressNextEnd {
		s.suppressNextEnd = false
		s.logger.Debugw("Speech recognition ended, restart suppressed", "last_error", s.lastError)
		return
	}
	if s.audio == nil {
		return
	}
	s.scheduleRestartLocked(s.cfg.RestartDelay)
}

// scheduleRestartLocked arms the single restart timer unless one is pending
// or the restart budget is spent.
func (s *TranscriptionSession) scheduleRestartLocked(delay time.Duration) {
	if s.audio == nil || s.restartTimer != nil {
		return
	}
	if s.restarts >= s.cfg.MaxRestarts {
		s.logger.Warnw("Speech recognition restart limit reached", "max_restarts", s.cfg.MaxRestarts)
		return
	}
	s.restarts++
	attempt := s.restarts

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.restartTimer != timer {
			s.mu.Unlock()
			return
		}
		s.restartTimer = nil
		s.mu.Unlock()

		s.logger.Infow("Restarting speech recognition", "attempt", attempt)
		if s.onRestart != nil {
			s.onRestart()
		}
		_ = s.launch()
	})
	s.restartTimer = timer
}

func (s *TranscriptionSession) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func (s *TranscriptionSession) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Interim returns the display-only text of the utterance in progress.
func (s *TranscriptionSession) Interim() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interim
}

func (s *TranscriptionSession) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *TranscriptionSession) LastError() domain.RecognitionErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// RestartPending reports whether an automatic restart is scheduled.
func (s *TranscriptionSession) RestartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartTimer != nil
}

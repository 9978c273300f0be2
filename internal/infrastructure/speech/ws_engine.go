package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const sampleBuffer = 64

// Config describes the streaming recognizer endpoint.
type Config struct {
	URL         string
	Language    string
	Token       ports.TokenProvider
	DialTimeout time.Duration
	// WriteTimeout bounds each audio frame write.
	WriteTimeout time.Duration
}

// startMessage opens a recognition stream. Audio follows as binary frames,
// one opus packet each.
type startMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Interim    bool   `json:"interim_results"`
}

type resultMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// WSEngine streams a local audio track to a websocket speech recognizer and
// maps its partial, final and error messages onto recognition events. One
// engine runs one stream at a time.
type WSEngine struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu       sync.Mutex
	handler  func(domain.RecognitionEvent)
	running  bool
	stopping bool
	conn     *websocket.Conn
	cancel   context.CancelFunc
}

func NewWSEngine(cfg Config, logger *zap.SugaredLogger) *WSEngine {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WSEngine{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger,
	}
}

func (e *WSEngine) Supported() bool {
	return e.cfg.URL != ""
}

func (e *WSEngine) SetHandler(handler func(domain.RecognitionEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Start begins a stream from audio, which must expose its samples. Events
// arrive on the handler from the stream goroutine, ending with exactly one
// end event.
func (e *WSEngine) Start(audio ports.MediaTrack) error {
	tap, ok := audio.(ports.SampleTap)
	if audio == nil || !ok {
		return fmt.Errorf("%w: track does not expose samples", domain.ErrNoAudioSource)
	}
	if !e.Supported() {
		return domain.ErrTranscriptionUnavailable
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("%w: recognition already running", domain.ErrInvalidState)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.stopping = false
	e.cancel = cancel
	e.mu.Unlock()

	go e.run(ctx, tap)
	return nil
}

// Stop ends the current stream. The end event follows asynchronously.
func (e *WSEngine) Stop() error {
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	conn, cancel := e.conn, e.cancel
	e.mu.Unlock()

	cancel()
	if conn != nil {
		deadline := time.Now().Add(e.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop")
		conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
	}
	return nil
}

func (e *WSEngine) run(ctx context.Context, tap ports.SampleTap) {
	defer e.finish()

	conn, err := e.dial(ctx)
	if err != nil {
		if !e.isStopping() {
			e.logger.Warnw("Speech engine connect failed", "url", e.cfg.URL, "error", err)
			e.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: dialErrorKind(err)})
		}
		return
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	e.mu.Unlock()

	start := startMessage{Type: "start", Language: e.cfg.Language, Codec: "opus", SampleRate: 48000, Interim: true}
	if err := conn.WriteJSON(start); err != nil {
		e.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: domain.RecognitionErrNetwork})
		conn.Close()
		return
	}
	e.emit(domain.RecognitionEvent{Kind: domain.RecognitionStart})

	samples := make(chan []byte, sampleBuffer)
	remove := tap.OnSample(func(s media.Sample) {
		select {
		case samples <- s.Data:
		default:
		}
	})
	streamCtx, endStream := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go e.writeAudio(streamCtx, conn, samples, writerDone)

	e.readResults(conn)

	remove()
	endStream()
	conn.Close()
	<-writerDone
}

func (e *WSEngine) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if e.cfg.Token != nil {
		token, err := e.cfg.Token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := e.dialer.DialContext(dialCtx, e.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}
	return conn, nil
}

func dialErrorKind(err error) domain.RecognitionErrorKind {
	if errors.Is(err, domain.ErrAuth) {
		return domain.RecognitionErrNotAllowed
	}
	return domain.RecognitionErrNetwork
}

func (e *WSEngine) writeAudio(ctx context.Context, conn *websocket.Conn, samples <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-samples:
			conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

func (e *WSEngine) readResults(conn *websocket.Conn) {
	for {
		var msg resultMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if e.isStopping() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			e.logger.Warnw("Speech engine stream broken", "error", err)
			e.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: domain.RecognitionErrNetwork})
			return
		}

		switch msg.Type {
		case "partial":
			e.emit(domain.RecognitionEvent{Kind: domain.RecognitionResult, Text: msg.Text})
		case "final":
			e.emit(domain.RecognitionEvent{Kind: domain.RecognitionResult, Text: msg.Text, Final: true})
		case "error":
			e.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: domain.ParseRecognitionError(msg.Code)})
		case "end":
			return
		default:
			e.logger.Debugw("Ignoring speech engine message", "type", msg.Type)
		}
	}
}

func (e *WSEngine) finish() {
	e.mu.Lock()
	e.running = false
	e.conn = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
	e.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnd})
}

func (e *WSEngine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *WSEngine) emit(ev domain.RecognitionEvent) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

var _ ports.RecognitionEngine = (*WSEngine)(nil)

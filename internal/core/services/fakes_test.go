package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
)

// fakePeerConnection records what a session does to it. Callbacks are fired
// from goroutines, like pion does.
type fakePeerConnection struct {
	mu       sync.Mutex
	onICE    func(*webrtc.ICECandidate)
	onState  func(webrtc.PeerConnectionState)
	onTrack  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	local    *webrtc.SessionDescription
	remote   *webrtc.SessionDescription
	applied  []webrtc.ICECandidateInit
	tracks   int
	state    webrtc.PeerConnectionState
	closes   int
	link     *fakeLink
	rtcpSent int

	failSetRemote    error
	failCreateOffer  error
	failCreateAnswer error
}

func (f *fakePeerConnection) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil, nil
}

func (f *fakePeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if f.failCreateOffer != nil {
		return webrtc.SessionDescription{}, f.failCreateOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakePeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateAnswer != nil {
		return webrtc.SessionDescription{}, f.failCreateAnswer
	}
	if f.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = &desc
	f.mu.Unlock()
	f.checkLink()
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	if f.failSetRemote != nil {
		f.mu.Unlock()
		return f.failSetRemote
	}
	f.remote = &desc
	f.mu.Unlock()
	f.checkLink()
	return nil
}

func (f *fakePeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("remote description not set")
	}
	if c.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakePeerConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakePeerConnection) WriteRTCP([]rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtcpSent++
	return nil
}

func (f *fakePeerConnection) ConnectionState() webrtc.PeerConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePeerConnection) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.setState(webrtc.PeerConnectionStateClosed)
	return nil
}

// setState changes the connection state and fires the callback asynchronously.
func (f *fakePeerConnection) setState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	f.state = state
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		go fn(state)
	}
}

func (f *fakePeerConnection) emitCandidate(port uint16) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn == nil {
		return
	}
	go fn(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
}

func (f *fakePeerConnection) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.applied))
	for _, c := range f.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakePeerConnection) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakePeerConnection) checkLink() {
	if f.link != nil {
		f.link.check()
	}
}

// fakeLink connects two fake peer connections once both have exchanged
// descriptions.
type fakeLink struct {
	a, b *fakePeerConnection
	once sync.Once
}

func (l *fakeLink) check() {
	if l.a == nil || l.b == nil {
		return
	}
	ready := func(f *fakePeerConnection) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.local != nil && f.remote != nil
	}
	if ready(l.a) && ready(l.b) {
		l.once.Do(func() {
			l.a.setState(webrtc.PeerConnectionStateConnected)
			l.b.setState(webrtc.PeerConnectionStateConnected)
		})
	}
}

type fakePeerFactory struct {
	mu      sync.Mutex
	created []*fakePeerConnection
	link    *fakeLink
	err     error
	prepare func(*fakePeerConnection)
}

func (f *fakePeerFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePeerConnection{state: webrtc.PeerConnectionStateNew, link: f.link}
	if f.prepare != nil {
		f.prepare(pc)
	}
	if f.link != nil {
		if f.link.a == nil {
			f.link.a = pc
		} else {
			f.link.b = pc
		}
	}
	f.created = append(f.created, pc)
	return pc, nil
}

func (f *fakePeerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakePeerFactory) at(i int) *fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

func (f *fakePeerFactory) last() *fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Enabled() bool             { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return nil }
func (t *fakeTrack) Stop()                     { t.stops.Add(1) }

type fakeLocalMedia struct {
	audio, video *fakeTrack
	stops        atomic.Int32
}

func (m *fakeLocalMedia) Audio() ports.MediaTrack {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

func (m *fakeLocalMedia) Video() ports.MediaTrack {
	if m.video == nil {
		return nil
	}
	return m.video
}

func (m *fakeLocalMedia) Tracks() []ports.MediaTrack {
	var out []ports.MediaTrack
	if m.audio != nil {
		out = append(out, m.audio)
	}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

func (m *fakeLocalMedia) Stop() {
	m.stops.Add(1)
	if m.audio != nil {
		m.audio.Stop()
	}
	if m.video != nil {
		m.video.Stop()
	}
}

type fakeMediaSource struct {
	mu       sync.Mutex
	acquired []*fakeLocalMedia
	err      error
	gate     chan struct{}
}

func (s *fakeMediaSource) Acquire(ctx context.Context, _ ports.MediaConstraints) (ports.LocalMedia, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := &fakeLocalMedia{
		audio: newFakeTrack(fmt.Sprintf("audio-%d", len(s.acquired)), webrtc.RTPCodecTypeAudio),
		video: newFakeTrack(fmt.Sprintf("video-%d", len(s.acquired)), webrtc.RTPCodecTypeVideo),
	}
	s.acquired = append(s.acquired, m)
	return m, nil
}

func (s *fakeMediaSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acquired)
}

func (s *fakeMediaSource) last() *fakeLocalMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.acquired) == 0 {
		return nil
	}
	return s.acquired[len(s.acquired)-1]
}

// fakeEngine is a recognition engine whose events are driven by the test.
type fakeEngine struct {
	mu        sync.Mutex
	handler   func(domain.RecognitionEvent)
	supported bool
	startErr  error
	starts    int
	stops     int
	autoStart bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{supported: true, autoStart: true}
}

func (e *fakeEngine) Supported() bool { return e.supported }

func (e *fakeEngine) SetHandler(h func(domain.RecognitionEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *fakeEngine) Start(ports.MediaTrack) error {
	e.mu.Lock()
	if e.startErr != nil {
		e.mu.Unlock()
		return e.startErr
	}
	e.starts++
	auto := e.autoStart
	e.mu.Unlock()
	if auto {
		go e.emit(domain.RecognitionEvent{Kind: domain.RecognitionStart})
	}
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) emit(ev domain.RecognitionEvent) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

// memoryTransport is one end of an in-memory signaling channel. Sends are
// delivered to the other end asynchronously and in order. Like the websocket
// transport, it holds inbound messages until the first subscriber arrives.
type memoryTransport struct {
	name  string
	mu    sync.Mutex
	peer  *memoryTransport
	state domain.ChannelState
	subs  map[int]func(domain.SignalEnvelope)
	next  int
	sent  []domain.SignalEnvelope
	queue *eventQueue[domain.SignalEnvelope]
	held  []domain.SignalEnvelope
	done  chan struct{}
	once  sync.Once
	hook  func(domain.SignalEnvelope)
}

func newMemoryTransport(name string) *memoryTransport {
	t := &memoryTransport{
		name:  name,
		state: domain.ChannelOpen,
		subs:  make(map[int]func(domain.SignalEnvelope)),
		done:  make(chan struct{}),
	}
	return t
}

func newMemoryPair() (*memoryTransport, *memoryTransport) {
	a, b := newMemoryTransport("a"), newMemoryTransport("b")
	a.peer, b.peer = b, a
	return a, b
}

func (t *memoryTransport) Send(env domain.SignalEnvelope) error {
	t.mu.Lock()
	if t.state != domain.ChannelOpen {
		t.mu.Unlock()
		return domain.ErrChannelNotOpen
	}
	t.sent = append(t.sent, env)
	peer, hook := t.peer, t.hook
	t.mu.Unlock()
	if hook != nil {
		hook(env)
	}
	if peer != nil {
		peer.deliver(env)
	}
	return nil
}

// deliver injects an envelope as if it arrived from the remote end.
func (t *memoryTransport) deliver(env domain.SignalEnvelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue == nil {
		t.held = append(t.held, env)
		return
	}
	t.queue.push(env)
}

func (t *memoryTransport) dispatch(env domain.SignalEnvelope) {
	t.mu.Lock()
	handlers := make([]func(domain.SignalEnvelope), 0, len(t.subs))
	for i := 0; i < t.next; i++ {
		if h, ok := t.subs[i]; ok {
			handlers = append(handlers, h)
		}
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (t *memoryTransport) OnMessage(h func(domain.SignalEnvelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.subs[id] = h
	if t.queue == nil {
		t.queue = newEventQueue(t.dispatch)
		for _, env := range t.held {
			t.queue.push(env)
		}
		t.held = nil
	}
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

func (t *memoryTransport) State() domain.ChannelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *memoryTransport) Done() <-chan struct{} { return t.done }

func (t *memoryTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.state = domain.ChannelClosed
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *memoryTransport) sentTypes() []domain.SignalType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SignalType, 0, len(t.sent))
	for _, env := range t.sent {
		out = append(out, env.Type)
	}
	return out
}

func (t *memoryTransport) sentOf(typ domain.SignalType) []domain.SignalEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.SignalEnvelope
	for _, env := range t.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (t *memoryTransport) subscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*memoryTransport
	err        error
	failAfter  int
	dials      int
	onDial     func(*memoryTransport)
}

func (d *fakeDialer) Dial(ctx context.Context, callID domain.CallID) (ports.SignalingTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil || (d.failAfter > 0 && d.dials > d.failAfter) {
		if d.err != nil {
			return nil, d.err
		}
		return nil, domain.ErrConnect
	}
	t := newMemoryTransport(string(callID))
	if d.onDial != nil {
		d.onDial(t)
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *memoryTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// MockCallAPI follows the testify mock style.
type MockCallAPI struct {
	mock.Mock
}

func (m *MockCallAPI) CreateCall(ctx context.Context, participants []domain.Participant) (*domain.Call, error) {
	args := m.Called(ctx, participants)
	call, _ := args.Get(0).(*domain.Call)
	return call, args.Error(1)
}

func (m *MockCallAPI) ListCallHistory(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error) {
	args := m.Called(ctx, limit, offset)
	calls, _ := args.Get(0).([]domain.CallWithTranscript)
	return calls, args.Error(1)
}

// recordingObserver keeps every callback for assertions.
type recordingObserver struct {
	mu           sync.Mutex
	incoming     []domain.CallID
	phases       []domain.CallPhase
	transcript   []domain.TranscriptEntry
	reconnecting int
	errs         []error
}

func (o *recordingObserver) OnIncomingCall(callID domain.CallID, _ string, _ domain.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.incoming = append(o.incoming, callID)
}

func (o *recordingObserver) OnPhaseChange(phase domain.CallPhase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, phase)
}

func (o *recordingObserver) OnTranscript(entry domain.TranscriptEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transcript = append(o.transcript, entry)
}

func (o *recordingObserver) OnReconnecting(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnecting++
}

func (o *recordingObserver) OnCallError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func (o *recordingObserver) phaseList() []domain.CallPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.CallPhase(nil), o.phases...)
}

func (o *recordingObserver) incomingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.incoming)
}

func (o *recordingObserver) reconnectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reconnecting
}

// eventLog collects peer events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []PeerEvent
}

func (l *eventLog) handle(ev PeerEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) signals() []domain.SignalEnvelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SignalEnvelope
	for _, ev := range l.events {
		if ev.Kind == PeerEventSignal {
			out = append(out, ev.Signal)
		}
	}
	return out
}

func (l *eventLog) has(kind PeerEventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) firstErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == PeerEventFailed {
			return ev.Err
		}
	}
	return nil
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	return m.Called(ctx, call).Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	args := m.Called(ctx, id)
	call, _ := args.Get(0).(*domain.Call)
	return call, args.Error(1)
}

func (m *MockCallRepository) End(ctx context.Context, id domain.CallID, at time.Time) (*domain.Call, error) {
	args := m.Called(ctx, id, at)
	call, _ := args.Get(0).(*domain.Call)
	return call, args.Error(1)
}

func (m *MockCallRepository) AppendTranscript(ctx context.Context, id domain.CallID, entry domain.TranscriptEntry) error {
	return m.Called(ctx, id, entry).Error(0)
}

func (m *MockCallRepository) Transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	args := m.Called(ctx, id)
	entries, _ := args.Get(0).([]domain.TranscriptEntry)
	return entries, args.Error(1)
}

func (m *MockCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]domain.CallWithTranscript, error) {
	args := m.Called(ctx, user, limit, offset)
	calls, _ := args.Get(0).([]domain.CallWithTranscript)
	return calls, args.Error(1)
}

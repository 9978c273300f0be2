package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/utils"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

// opusSilence is a single 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FileMediaSource captures local media by looping files: ogg/opus for audio
// and ivf/vp8 for video. Without an audio file it sends opus silence; without
// a video file no video track is captured.
type FileMediaSource struct {
	AudioPath string
	VideoPath string
	Logger    *zap.SugaredLogger
}

func (s *FileMediaSource) Acquire(ctx context.Context, constraints ports.MediaConstraints) (ports.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	streamID := utils.GenerateID("local")
	m := &localMedia{}

	if constraints.Audio {
		src, err := s.audioSource()
		if err != nil {
			return nil, err
		}
		track, err := newFileTrack("audio", streamID, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}, logger)
		if err != nil {
			src.close()
			return nil, err
		}
		m.audio = track
		go track.pump(src)
	}

	if constraints.Video && s.VideoPath != "" {
		src, err := openIVF(s.VideoPath)
		if err != nil {
			m.Stop()
			return nil, err
		}
		track, err := newFileTrack("video", streamID, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, logger)
		if err != nil {
			src.close()
			m.Stop()
			return nil, err
		}
		m.video = track
		go track.pump(src)
	}

	logger.Infow("Local media acquired",
		"audio", m.audio != nil,
		"video", m.video != nil,
		"audio_file", s.AudioPath,
		"video_file", s.VideoPath,
	)
	return m, nil
}

func (s *FileMediaSource) audioSource() (sampleSource, error) {
	if s.AudioPath == "" {
		return silence(), nil
	}
	return openOgg(s.AudioPath)
}

// sampleSource yields samples whose Duration is the wait before the next one.
type sampleSource struct {
	next  func() (media.Sample, error)
	close func()
}

func silence() sampleSource {
	return sampleSource{
		next: func() (media.Sample, error) {
			return media.Sample{Data: opusSilence, Duration: oggPageDuration}, nil
		},
		close: func() {},
	}
}

func mediaError(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrMediaAccess, path, err)
}

// openOgg checks the file and returns a source that loops it forever.
func openOgg(path string) (sampleSource, error) {
	var (
		file      *os.File
		reader    *oggreader.OggReader
		lastGrain uint64
	)
	open := func() error {
		if file != nil {
			file.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			return mediaError(path, err)
		}
		r, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return mediaError(path, err)
		}
		file, reader, lastGrain = f, r, 0
		return nil
	}
	if err := open(); err != nil {
		return sampleSource{}, err
	}

	var next func() (media.Sample, error)
	next = func() (media.Sample, error) {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := open(); err != nil {
				return media.Sample{}, err
			}
			return next()
		}
		if err != nil {
			return media.Sample{}, err
		}

		duration := oggPageDuration
		if header.GranulePosition > lastGrain && lastGrain > 0 {
			samples := header.GranulePosition - lastGrain
			duration = time.Duration(samples) * time.Second / opusSampleRate
		}
		lastGrain = header.GranulePosition
		return media.Sample{Data: page, Duration: duration}, nil
	}
	return sampleSource{next: next, close: func() { file.Close() }}, nil
}

func openIVF(path string) (sampleSource, error) {
	var (
		file   *os.File
		reader *ivfreader.IVFReader
		frame  time.Duration
	)
	open := func() error {
		if file != nil {
			file.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			return mediaError(path, err)
		}
		r, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return mediaError(path, err)
		}
		file, reader = f, r
		frame = 33 * time.Millisecond
		if header.TimebaseDenominator > 0 {
			frame = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
		}
		return nil
	}
	if err := open(); err != nil {
		return sampleSource{}, err
	}

	var next func() (media.Sample, error)
	next = func() (media.Sample, error) {
		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if err := open(); err != nil {
				return media.Sample{}, err
			}
			return next()
		}
		if err != nil {
			return media.Sample{}, err
		}
		return media.Sample{Data: data, Duration: frame}, nil
	}
	return sampleSource{next: next, close: func() { file.Close() }}, nil
}

type localMedia struct {
	audio *fileTrack
	video *fileTrack
}

func (m *localMedia) Audio() ports.MediaTrack {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

func (m *localMedia) Video() ports.MediaTrack {
	if m.video == nil {
		return nil
	}
	return m.video
}

func (m *localMedia) Tracks() []ports.MediaTrack {
	var tracks []ports.MediaTrack
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

func (m *localMedia) Stop() {
	if m.audio != nil {
		m.audio.Stop()
	}
	if m.video != nil {
		m.video.Stop()
	}
}

// fileTrack paces samples from a source into a static sample track. While
// disabled, samples are neither sent nor tapped.
type fileTrack struct {
	id     string
	kind   webrtc.RTPCodecType
	track  *webrtc.TrackLocalStaticSample
	logger *zap.SugaredLogger

	enabled atomic.Bool

	mu      sync.Mutex
	taps    map[int]func(media.Sample)
	nextTap int

	stop     chan struct{}
	stopOnce sync.Once
}

func newFileTrack(kind, streamID string, codec webrtc.RTPCodecCapability, logger *zap.SugaredLogger) (*fileTrack, error) {
	id := utils.GenerateID(kind)
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}

	t := &fileTrack{
		id:     id,
		kind:   webrtc.NewRTPCodecType(kind),
		track:  track,
		logger: logger.With("track_id", id),
		taps:   make(map[int]func(media.Sample)),
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *fileTrack) ID() string                { return t.id }
func (t *fileTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fileTrack) Enabled() bool             { return t.enabled.Load() }
func (t *fileTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *fileTrack) Local() webrtc.TrackLocal  { return t.track }

func (t *fileTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// OnSample registers fn to observe every sample sent while enabled.
func (t *fileTrack) OnSample(fn func(media.Sample)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextTap
	t.nextTap++
	t.taps[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.taps, id)
	}
}

func (t *fileTrack) pump(src sampleSource) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	defer src.close()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
		}

		sample, err := src.next()
		if err != nil {
			t.logger.Warnw("Local media source stopped", "error", err)
			return
		}
		timer.Reset(sample.Duration)

		if !t.Enabled() {
			continue
		}
		if err := t.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			t.logger.Debugw("Sample write failed", "error", err)
		}

		t.mu.Lock()
		taps := make([]func(media.Sample), 0, len(t.taps))
		for _, fn := range t.taps {
			taps = append(taps, fn)
		}
		t.mu.Unlock()
		for _, fn := range taps {
			fn(sample)
		}
	}
}

var _ ports.SampleTap = (*fileTrack)(nil)

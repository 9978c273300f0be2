package webrtc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

type discardWriter struct{}

func (discardWriter) WriteRTP(*rtp.Packet) error { return nil }
func (discardWriter) Close() error               { return nil }

// TrackRecorder drains remote tracks, writing opus audio to ogg and VP8
// video to ivf under Dir. Other codecs, and every track when Dir is empty,
// are read and discarded.
type TrackRecorder struct {
	Dir    string
	Logger *zap.SugaredLogger

	// WriteRTCP, when set, is used to ask for a keyframe every
	// KeyframeInterval while a video track is recorded.
	WriteRTCP        func([]rtcp.Packet) error
	KeyframeInterval time.Duration

	wg    sync.WaitGroup
	mu    sync.Mutex
	files []string
}

func (r *TrackRecorder) Consume(track *webrtc.TrackRemote) {
	codec := track.Codec().MimeType
	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), sanitizeName(track.ID()))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			stop := r.requestKeyframes(uint32(track.SSRC()))
			defer stop()
		}
		r.record(track, codec, name)
	}()
}

func (r *TrackRecorder) record(src rtpSource, codec, name string) {
	logger := r.logger().With("codec", codec, "name", name)

	w, path, err := r.openWriter(codec, name)
	if err != nil {
		logger.Warnw("Failed to open recording, discarding track", "error", err)
		w = discardWriter{}
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warnw("Failed to close recording", "error", err)
		}
	}()
	if path != "" {
		r.mu.Lock()
		r.files = append(r.files, path)
		r.mu.Unlock()
		logger.Infow("Recording remote track", "path", path)
	}

	var packets int
	for {
		packet, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugw("Remote track read ended", "error", err)
			}
			logger.Infow("Remote track finished", "packets", packets)
			return
		}
		packets++
		if err := w.WriteRTP(packet); err != nil {
			logger.Warnw("Failed to write packet, discarding the rest", "error", err)
			w.Close()
			w = discardWriter{}
		}
	}
}

func (r *TrackRecorder) openWriter(codec, name string) (rtpWriter, string, error) {
	if r.Dir == "" {
		return discardWriter{}, "", nil
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, "", err
	}

	switch {
	case strings.EqualFold(codec, webrtc.MimeTypeOpus):
		path := filepath.Join(r.Dir, name+".ogg")
		w, err := oggwriter.New(path, opusSampleRate, 2)
		return w, path, err
	case strings.EqualFold(codec, webrtc.MimeTypeVP8):
		path := filepath.Join(r.Dir, name+".ivf")
		w, err := ivfwriter.New(path)
		return w, path, err
	default:
		return discardWriter{}, "", nil
	}
}

func (r *TrackRecorder) requestKeyframes(ssrc uint32) (stop func()) {
	if r.WriteRTCP == nil || r.KeyframeInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.KeyframeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := r.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
					r.logger().Debugw("Keyframe request failed", "ssrc", ssrc, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// Wait blocks until every consumed track has finished.
func (r *TrackRecorder) Wait() {
	r.wg.Wait()
}

// Files lists the recordings opened so far.
func (r *TrackRecorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *TrackRecorder) logger() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}

func sanitizeName(s string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, s)
}

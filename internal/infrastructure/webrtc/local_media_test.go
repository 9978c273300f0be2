package webrtc

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type sampleLog struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (l *sampleLog) add(s media.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *sampleLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func (l *sampleLog) countData(data []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.samples {
		if bytes.Equal(s.Data, data) {
			n++
		}
	}
	return n
}

func tap(t *testing.T, track ports.MediaTrack) *sampleLog {
	t.Helper()
	tapper, ok := track.(ports.SampleTap)
	require.True(t, ok)
	log := &sampleLog{}
	remove := tapper.OnSample(log.add)
	t.Cleanup(remove)
	return log
}

func writeOgg(t *testing.T, payloads ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.ogg")
	w, err := oggwriter.New(path, opusSampleRate, 2)
	require.NoError(t, err)
	for i, p := range payloads {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: p,
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString("VP80")
	binary.Write(&buf, binary.LittleEndian, uint16(640))
	binary.Write(&buf, binary.LittleEndian, uint16(480))
	binary.Write(&buf, binary.LittleEndian, uint32(50)) // timebase denominator
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // timebase numerator
	binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	for i, f := range frames {
		binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(f)
	}

	path := filepath.Join(t.TempDir(), "camera.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func acquire(t *testing.T, src *FileMediaSource, c ports.MediaConstraints) ports.LocalMedia {
	t.Helper()
	local, err := src.Acquire(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(local.Stop)
	return local
}

func TestFileMediaSource_SilenceWithoutAudioFile(t *testing.T) {
	local := acquire(t, &FileMediaSource{Logger: zap.NewNop().Sugar()}, ports.MediaConstraints{Audio: true, Video: true})

	require.NotNil(t, local.Audio())
	assert.Nil(t, local.Video())
	assert.Len(t, local.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, local.Audio().Kind())
	assert.True(t, local.Audio().Enabled())
	assert.Equal(t, webrtc.MimeTypeOpus, local.Audio().Local().(*webrtc.TrackLocalStaticSample).Codec().MimeType)

	log := tap(t, local.Audio())
	assert.Eventually(t, func() bool { return log.countData(opusSilence) >= 3 }, waitFor, tick)
}

func TestFileMediaSource_LoopsOggFile(t *testing.T) {
	path := writeOgg(t, []byte{1, 2, 3}, []byte{4, 5, 6})
	local := acquire(t, &FileMediaSource{AudioPath: path}, ports.MediaConstraints{Audio: true})

	log := tap(t, local.Audio())
	assert.Eventually(t, func() bool {
		return log.countData([]byte{1, 2, 3}) >= 2 && log.countData([]byte{4, 5, 6}) >= 2
	}, waitFor, tick)
}

func TestFileMediaSource_IVFVideo(t *testing.T) {
	path := writeIVF(t, []byte{0xaa, 0xbb}, []byte{0xcc})
	local := acquire(t, &FileMediaSource{VideoPath: path}, ports.MediaConstraints{Audio: true, Video: true})

	require.NotNil(t, local.Video())
	assert.Len(t, local.Tracks(), 2)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, local.Video().Kind())

	log := tap(t, local.Video())
	assert.Eventually(t, func() bool { return log.countData([]byte{0xcc}) >= 2 }, waitFor, tick)

	log.mu.Lock()
	assert.Equal(t, 20*time.Millisecond, log.samples[0].Duration)
	log.mu.Unlock()
}

func TestFileMediaSource_VideoOnlyWhenRequested(t *testing.T) {
	path := writeIVF(t, []byte{0x01})
	local := acquire(t, &FileMediaSource{VideoPath: path}, ports.MediaConstraints{Audio: true})
	assert.Nil(t, local.Video())
}

func TestFileMediaSource_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.ogg")

	_, err := (&FileMediaSource{AudioPath: missing}).Acquire(context.Background(), ports.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrMediaAccess)

	_, err = (&FileMediaSource{VideoPath: missing}).Acquire(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	assert.ErrorIs(t, err, domain.ErrMediaAccess)

	garbage := filepath.Join(t.TempDir(), "garbage.ivf")
	require.NoError(t, os.WriteFile(garbage, []byte("not a video"), 0o644))
	_, err = (&FileMediaSource{VideoPath: garbage}).Acquire(context.Background(), ports.MediaConstraints{Video: true})
	assert.ErrorIs(t, err, domain.ErrMediaAccess)
}

func TestFileMediaSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&FileMediaSource{}).Acquire(ctx, ports.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileTrack_DisabledStopsSamples(t *testing.T) {
	local := acquire(t, &FileMediaSource{}, ports.MediaConstraints{Audio: true})
	audio := local.Audio()
	log := tap(t, audio)
	assert.Eventually(t, func() bool { return log.count() > 0 }, waitFor, tick)

	audio.SetEnabled(false)
	assert.False(t, audio.Enabled())
	time.Sleep(50 * time.Millisecond)
	muted := log.count()
	assert.Never(t, func() bool { return log.count() > muted }, 100*time.Millisecond, tick)

	audio.SetEnabled(true)
	assert.Eventually(t, func() bool { return log.count() > muted }, waitFor, tick)
}

func TestFileTrack_StopEndsPump(t *testing.T) {
	local, err := (&FileMediaSource{}).Acquire(context.Background(), ports.MediaConstraints{Audio: true})
	require.NoError(t, err)
	log := tap(t, local.Audio())
	assert.Eventually(t, func() bool { return log.count() > 0 }, waitFor, tick)

	local.Stop()
	local.Stop()
	time.Sleep(50 * time.Millisecond)
	stopped := log.count()
	assert.Never(t, func() bool { return log.count() > stopped }, 100*time.Millisecond, tick)
}

package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/flowlab/audio"
)

type fakeStream struct {
	device  *fakeDevice
	started bool
	stopped bool
	closed  bool
	stopErr error
}

func (s *fakeStream) Start() error {
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped = true
	// Final flush happens before Stop returns.
	for _, c := range s.device.flush {
		s.device.onChunk(c)
	}
	return s.stopErr
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	onChunk func([]int16)
	flush   [][]int16
	openErr error
	stopErr error
	opened  []*fakeStream
}

func (d *fakeDevice) Open(onChunk func([]int16)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.onChunk = onChunk
	s := &fakeStream{device: d, stopErr: d.stopErr}
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *fakeDevice) SampleRate() int { return 8000 }

func (d *fakeDevice) emit(chunk []int16) {
	d.onChunk(chunk)
}

func TestRecorderStartStop(t *testing.T) {
	dev := &fakeDevice{flush: [][]int16{{7, 8}}}
	rec := New(dev)

	require.NoError(t, rec.StartRecording())
	assert.Equal(t, 1, rec.ActiveStreams())

	dev.emit([]int16{1, 2, 3})
	dev.emit([]int16{4, 5, 6})

	clip, err := rec.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ActiveStreams())
	assert.Equal(t, audio.MIMETypeWAV, clip.MIMEType)
	assert.Equal(t, 8, clip.Frames)

	samples, rate, err := audio.DecodeWAV(clip.Data)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6, 7, 8}, samples)

	require.Len(t, dev.opened, 1)
	assert.True(t, dev.opened[0].stopped)
	assert.True(t, dev.opened[0].closed)
}

func TestRecorderClearsChunksBetweenAttempts(t *testing.T) {
	dev := &fakeDevice{}
	rec := New(dev)

	require.NoError(t, rec.StartRecording())
	dev.emit([]int16{1, 1, 1})
	_, err := rec.StopRecording(context.Background())
	require.NoError(t, err)

	require.NoError(t, rec.StartRecording())
	dev.emit([]int16{2})
	clip, err := rec.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, clip.Frames)
}

func TestRecorderChunkIsCopied(t *testing.T) {
	dev := &fakeDevice{}
	rec := New(dev)

	require.NoError(t, rec.StartRecording())
	buf := []int16{5, 5}
	dev.emit(buf)
	buf[0] = 99

	clip, err := rec.StopRecording(context.Background())
	require.NoError(t, err)
	samples, _, err := audio.DecodeWAV(clip.Data)
	require.NoError(t, err)
	assert.Equal(t, []int16{5, 5}, samples)
}

func TestRecorderRejectsSecondStart(t *testing.T) {
	rec := New(&fakeDevice{})
	require.NoError(t, rec.StartRecording())
	assert.ErrorIs(t, rec.StartRecording(), ErrAlreadyRecording)
	require.NoError(t, rec.Release())
}

func TestRecorderStopWithoutStart(t *testing.T) {
	rec := New(&fakeDevice{})
	_, err := rec.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorderReleasesStreamOnStopError(t *testing.T) {
	dev := &fakeDevice{stopErr: errors.New("device unplugged")}
	rec := New(dev)

	require.NoError(t, rec.StartRecording())
	_, err := rec.StopRecording(context.Background())
	require.Error(t, err)

	assert.Equal(t, 0, rec.ActiveStreams())
	assert.True(t, dev.opened[0].closed)
}

func TestRecorderOpenError(t *testing.T) {
	rec := New(&fakeDevice{openErr: ErrPermissionDenied})
	err := rec.StartRecording()
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, rec.ActiveStreams())
}

func TestRecorderRelease(t *testing.T) {
	dev := &fakeDevice{}
	rec := New(dev)

	require.NoError(t, rec.Release())

	require.NoError(t, rec.StartRecording())
	require.NoError(t, rec.Release())
	require.NoError(t, rec.Release())

	assert.Equal(t, 0, rec.ActiveStreams())
	assert.True(t, dev.opened[0].stopped)
	assert.True(t, dev.opened[0].closed)
}

package tools

import (
	"context"
	"io"
	"testing"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wtconnect/livevoice/shared"
)

func TestFramerEmitsFixedSizeFrames(t *testing.T) {
	f := NewFramer(4, CaptureSampleRate)

	frames := f.Push([]float32{1, 2, 3})
	assert.Empty(t, frames)
	assert.Equal(t, 3, f.Pending())

	frames = f.Push([]float32{4, 5, 6, 7, 8, 9, 10})
	require.Len(t, frames, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, frames[0].Samples)
	assert.Equal(t, []float32{5, 6, 7, 8}, frames[1].Samples)
	assert.Equal(t, uint64(0), frames[0].Seq)
	assert.Equal(t, uint64(1), frames[1].Seq)
	assert.Equal(t, 2, f.Pending())
}

func TestFramerDefaults(t *testing.T) {
	f := NewFramer(0, 0)
	frames := f.Push(make([]float32, FrameSize+1))
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Samples, FrameSize)
}

func TestFramerResamples(t *testing.T) {
	f := NewFramer(8, 48000)
	frames := f.Push(make([]float32, 48))
	require.Len(t, frames, 2)
	assert.Zero(t, f.Pending())
}

func TestResampleMono(t *testing.T) {
	in := []float32{0, 1, 0, -1}
	assert.Equal(t, in, ResampleMono(in, 16000, 16000))
	assert.Equal(t, in, ResampleMono(in, 0, 16000))

	up := ResampleMono(in, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)

	down := ResampleMono([]float32{0, 0.5, 1, 0.5}, 16000, 8000)
	assert.Equal(t, []float32{0, 1}, down)
}

func TestResamplerKeepsPositionAcrossChunks(t *testing.T) {
	r := NewResampler(48000, CaptureSampleRate)
	var out []float32
	next := float32(0)
	for range 10 {
		chunk := make([]float32, 5)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		out = append(out, r.Process(chunk)...)
	}
	require.Len(t, out, 17)
	for i, v := range out {
		assert.InDelta(t, float32(3*i), v, 1e-4, "sample %d", i)
	}
}

func TestFramerFractionalRateDoesNotDrift(t *testing.T) {
	f := NewFramer(160, 44100)
	total := 0
	for range 441 {
		for _, frame := range f.Push(make([]float32, 100)) {
			total += len(frame.Samples)
		}
	}
	total += f.Pending()
	assert.InDelta(t, CaptureSampleRate, total, 2)
}

func TestFramerSingleSampleChunks(t *testing.T) {
	f := NewFramer(4, 48000)
	var frames []CaptureFrame
	for range 48 {
		frames = append(frames, f.Push([]float32{0.25})...)
	}
	require.Len(t, frames, 4)
	assert.Zero(t, f.Pending())
}

func TestDownmixInterleaved(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, DownmixInterleaved([]float32{1, 0, 0.5, -0.5}, 2))
	assert.Equal(t, []float32{1}, DownmixInterleaved([]float32{1}, 1))
}

func TestInt16ToFloat(t *testing.T) {
	assert.Equal(t, []float32{0, 0.5, -1}, Int16ToFloat([]int16{0, 16384, -32768}))
}

func TestMicrophonePumpConvertsChunks(t *testing.T) {
	mic, err := NewMicrophone(shared.NewNopLogger(), 4)
	require.NoError(t, err)

	f32 := wave.NewFloat32Interleaved(wave.ChunkInfo{Len: 3, Channels: 1, SamplingRate: CaptureSampleRate})
	copy(f32.Data, []float32{0.1, 0.2, 0.3})
	i16 := wave.NewInt16Interleaved(wave.ChunkInfo{Len: 2, Channels: 1, SamplingRate: CaptureSampleRate})
	copy(i16.Data, []int16{16384, -16384})

	chunks := []wave.Audio{f32, i16}
	released := 0
	read := func() (wave.Audio, func(), error) {
		if len(chunks) == 0 {
			return nil, func() {}, io.EOF
		}
		c := chunks[0]
		chunks = chunks[1:]
		return c, func() { released++ }, nil
	}

	frames := make(chan CaptureFrame, 4)
	mic.pump(context.Background(), read, frames)

	var got []CaptureFrame
	for f := range frames {
		got = append(got, f)
	}
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.5}, got[0].Samples)
	assert.Equal(t, 2, released)
}

func TestMicrophonePumpReadsTrackReader(t *testing.T) {
	mic, err := NewMicrophone(shared.NewNopLogger(), 2)
	require.NoError(t, err)

	sent := false
	var reader audio.Reader = audio.ReaderFunc(func() (wave.Audio, func(), error) {
		if sent {
			return nil, func() {}, io.EOF
		}
		sent = true
		chunk := wave.NewInt16Interleaved(wave.ChunkInfo{Len: 2, Channels: 1, SamplingRate: CaptureSampleRate})
		copy(chunk.Data, []int16{16384, 0})
		return chunk, func() {}, nil
	})

	frames := make(chan CaptureFrame, 1)
	mic.pump(context.Background(), reader.Read, frames)
	frame, ok := <-frames
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0}, frame.Samples)
	_, ok = <-frames
	assert.False(t, ok)
}

func TestMicrophoneStopWithoutStart(t *testing.T) {
	_, err := NewMicrophone(nil, 0)
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	mic, err := NewMicrophone(shared.NewNopLogger(), 0)
	require.NoError(t, err)
	assert.NoError(t, mic.Stop())
	assert.NoError(t, mic.Stop())
}

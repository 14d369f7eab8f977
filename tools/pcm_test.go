package tools

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wtconnect/livevoice/shared"
)

func TestEncoderToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		input    []float32
		expected []int16
		err      error
	}{
		{
			name:     "truncates toward zero",
			input:    []float32{0.5, -0.5, 0.00002, -0.00002},
			expected: []int16{16384, -16384, 0, 0},
		},
		{
			name:     "full scale negative",
			input:    []float32{-1.0},
			expected: []int16{-32768},
		},
		{
			name:     "clamps positive full scale",
			input:    []float32{1.0, 1.5, -2},
			expected: []int16{32767, 32767, -32768},
		},
		{
			name:     "nan is silence",
			input:    []float32{float32(math.NaN())},
			expected: []int16{0},
		},
		{
			name:   "strict rejects overflow",
			policy: OverflowStrict,
			input:  []float32{0.1, 1.0},
			err:    shared.ErrEncodeOverflow,
		},
		{
			name:     "strict accepts in range",
			policy:   OverflowStrict,
			input:    []float32{-1.0, 0.25},
			expected: []int16{-32768, 8192},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encoder{Policy: tt.policy}.ToPCM16(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, frame.Samples)
			assert.Equal(t, CaptureSampleRate, frame.SampleRate)
		})
	}
}

func TestEncodeProducesLittleEndianBase64(t *testing.T) {
	chunk, err := Encoder{}.Encode([]float32{0.5, -1.0})
	require.NoError(t, err)
	assert.Equal(t, "audio/pcm;rate=16000", chunk.MIMEType)

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x40, 0x00, 0x80}, raw)
}

func TestEncodeIsDeterministic(t *testing.T) {
	samples := make([]float32, FrameSize)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}
	a, err := Encoder{}.Encode(samples)
	require.NoError(t, err)
	b, err := Encoder{}.Encode(samples)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 1234, -32768, 32767}
	chunk := EncodePCM(Frame{Samples: samples, SampleRate: PlaybackSampleRate})
	assert.Equal(t, "audio/pcm;rate=24000", chunk.MIMEType)

	buf, err := Decode(chunk.Data)
	require.NoError(t, err)
	assert.Equal(t, PlaybackSampleRate, buf.SampleRate)
	require.Len(t, buf.Samples, len(samples))

	frame, err := Encoder{}.ToPCM16(buf.Samples)
	require.NoError(t, err)
	assert.Equal(t, samples, frame.Samples)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not base64", input: "%%%not-base64%%%"},
		{name: "odd byte count", input: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Decode(tt.input)
			assert.Nil(t, buf)
			assert.ErrorIs(t, err, shared.ErrProtocol)
		})
	}
}

func TestDecodeDuration(t *testing.T) {
	buf, err := Decode(base64.StdEncoding.EncodeToString(make([]byte, 2048*2)))
	require.NoError(t, err)
	assert.Len(t, buf.Samples, 2048)
	assert.InDelta(t, 85.333, float64(buf.Duration().Microseconds())/1000, 0.001)
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "clamp", OverflowClamp.String())
	assert.Equal(t, "strict", OverflowStrict.String())
	assert.Equal(t, "unknown", OverflowPolicy(9).String())
}

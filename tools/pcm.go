package tools

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/wtconnect/livevoice/shared"
)

const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	FrameSize          = 4096
	bytesPerSample     = 2

	// CaptureMIMEType tags every outbound chunk.
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// CaptureFrame is one fixed-size batch of raw microphone samples in
// [-1.0, 1.0] at CaptureSampleRate. Seq increases by one per frame.
type CaptureFrame struct {
	Seq     uint64
	Samples []float32
}

// Frame is a block of signed 16-bit PCM samples at SampleRate.
type Frame struct {
	Samples    []int16
	SampleRate int
}

func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// EncodedChunk is the transport form of a Frame.
type EncodedChunk struct {
	MIMEType string
	Data     string
}

type OverflowPolicy int

const (
	// OverflowClamp saturates out-of-range samples at the int16 limits.
	OverflowClamp OverflowPolicy = iota
	// OverflowStrict rejects a frame holding any out-of-range sample.
	OverflowStrict
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowClamp:
		return "clamp"
	case OverflowStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Encoder turns float frames into base64 s16le chunks. It holds no state
// besides its policy and is safe for concurrent use.
type Encoder struct {
	Policy OverflowPolicy
}

// ToPCM16 converts float samples by scaling with 32768 and truncating
// toward zero. NaN becomes 0.
func (e Encoder) ToPCM16(samples []float32) (Frame, error) {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Trunc(float64(s) * 32768)
		if math.IsNaN(v) {
			v = 0
		}
		if v > math.MaxInt16 || v < math.MinInt16 {
			if e.Policy == OverflowStrict {
				return Frame{}, fmt.Errorf("sample %d = %v: %w", i, s, shared.ErrEncodeOverflow)
			}
			v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		}
		out[i] = int16(v)
	}
	return Frame{Samples: out, SampleRate: CaptureSampleRate}, nil
}

func (e Encoder) Encode(samples []float32) (EncodedChunk, error) {
	frame, err := e.ToPCM16(samples)
	if err != nil {
		return EncodedChunk{}, err
	}
	return EncodePCM(frame), nil
}

// EncodePCM packs a frame little-endian and base64-encodes it.
func EncodePCM(frame Frame) EncodedChunk {
	return EncodedChunk{
		MIMEType: pcmMIMEType(frame.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(PackPCM16(frame.Samples)),
	}
}

func PackPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

func UnpackPCM16(data []byte) ([]int16, error) {
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data size %d not aligned to sample size %d: %w", len(data), bytesPerSample, shared.ErrProtocol)
	}
	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}
	return out, nil
}

// Buffer is decoded playback audio, normalised to [-1.0, 1.0).
type Buffer struct {
	Samples    []float32
	SampleRate int
}

func (b *Buffer) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// Decode interprets a base64 payload as s16le PCM at PlaybackSampleRate.
// Every failure wraps shared.ErrProtocol; callers skip the payload.
func Decode(b64 string) (*Buffer, error) {
	if b64 == "" {
		return nil, fmt.Errorf("empty audio payload: %w", shared.ErrProtocol)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 audio: %w: %w", shared.ErrProtocol, err)
	}
	return DecodePCM(raw, PlaybackSampleRate)
}

func DecodePCM(raw []byte, sampleRate int) (*Buffer, error) {
	pcm, err := UnpackPCM16(raw)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

func pcmMIMEType(rate int) string {
	if rate == CaptureSampleRate || rate == 0 {
		return CaptureMIMEType
	}
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

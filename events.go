package livevoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/wtconnect/livevoice/shared"
	"github.com/wtconnect/livevoice/tools"
)

type EventType string

// Session event types, in the order a healthy session produces them.
const (
	EventOpen             EventType = "open"
	EventAudio            EventType = "audio"
	EventText             EventType = "text"
	EventInputTranscript  EventType = "input_transcript"
	EventOutputTranscript EventType = "output_transcript"
	EventTurnComplete     EventType = "turn_complete"
	EventInterrupted      EventType = "interrupted"
	EventGoAway           EventType = "go_away"
	EventError            EventType = "error"
	EventClosed           EventType = "closed"
)

// Event is one notification from the streaming session. Only the fields
// relevant to Type are set.
type Event struct {
	Type     EventType
	Audio    string // base64 s16le PCM
	MIMEType string
	Text     string
	TimeLeft string
	Err      error
}

func (e *Event) fields() map[string]any {
	resp := map[string]any{"type": e.Type}
	if e.Audio != "" {
		resp["audio_bytes"] = len(e.Audio) / 4 * 3
		resp["mime_type"] = e.MIMEType
	}
	if e.Text != "" {
		resp["text"] = e.Text
	}
	if e.TimeLeft != "" {
		resp["time_left"] = e.TimeLeft
	}
	if e.Err != nil {
		resp["error"] = e.Err.Error()
	}
	return resp
}

func (e *Event) MarshalYAML() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	return yaml.MarshalWithOptions(e.fields(), yaml.UseJSONMarshaler())
}

func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	return sonic.Marshal(e.fields())
}

// Outgoing BidiGenerateContent messages.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *contentParts    `json:"systemInstruction,omitempty"`
	InputTranscript   *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputTranscript  *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type contentParts struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

func newSetupMessage(cfg *SessionConfig) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: cfg.ResponseModalities,
			},
		},
	}
	if len(msg.Setup.GenerationConfig.ResponseModalities) == 0 {
		msg.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &contentParts{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Transcribe {
		msg.Setup.InputTranscript = &struct{}{}
		msg.Setup.OutputTranscript = &struct{}{}
	}
	return msg
}

func newRealtimeInput(chunk tools.EncodedChunk) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
		},
	}
}

// Incoming BidiGenerateContent messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *contentParts  `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// parseServerMessage turns one wire frame into session events, preserving
// the order of parts within the message. A frame that is not valid JSON
// wraps shared.ErrProtocol.
func parseServerMessage(data []byte) ([]Event, error) {
	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling server message: %w: %w", shared.ErrProtocol, err)
	}
	var events []Event
	if msg.SetupComplete != nil {
		events = append(events, Event{Type: EventOpen})
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		events = append(events, Event{
			Type: EventError,
			Err:  fmt.Errorf("endpoint error %d %s: %s: %w", msg.Error.Code, msg.Error.Status, text, shared.ErrProtocol),
		})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && isAudio(p.InlineData.MIMEType) {
					events = append(events, Event{Type: EventAudio, Audio: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
				}
				if p.Text != "" {
					events = append(events, Event{Type: EventText, Text: p.Text})
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, Event{Type: EventInputTranscript, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, Event{Type: EventOutputTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.Interrupted {
			events = append(events, Event{Type: EventInterrupted})
		}
		if sc.TurnComplete {
			events = append(events, Event{Type: EventTurnComplete})
		}
	}
	if msg.GoAway != nil {
		events = append(events, Event{Type: EventGoAway, TimeLeft: msg.GoAway.TimeLeft})
	}
	return events, nil
}

// isAudio accepts untagged inline data, which the endpoint sends for its
// default output format.
func isAudio(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, "audio/")
}

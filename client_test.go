package livevoice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wtconnect/livevoice/shared"
	"github.com/wtconnect/livevoice/tools"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer runs handler for every accepted WebSocket connection.
func startLiveServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(r.Context(), conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v))
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, v any) {
	t.Helper()
	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, typ, data)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), shared.NewNopLogger(), "test-key", wsURL(srv))
	require.NoError(t, err)
	cfg := DefaultConfig().Session
	require.NoError(t, c.SetConfig(&cfg))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(context.Background(), nil, "key", "")
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewClient(context.Background(), shared.NewNopLogger(), "", "")
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)

	c, err := NewClient(context.Background(), shared.NewNopLogger(), "key", "")
	require.NoError(t, err)
	assert.Equal(t, ClientStateNew, c.State())
	assert.ErrorIs(t, c.Connect(context.Background()), shared.ErrNoConfig)
}

func TestClientSessionRoundTrip(t *testing.T) {
	type setupFrame struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}
	type inputFrame struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	setupCh := make(chan setupFrame, 1)
	inputCh := make(chan inputFrame, 2)
	keyCh := make(chan string, 1)
	srv := startLiveServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		var setup setupFrame
		readFrame(t, ctx, conn, &setup)
		setupCh <- setup
		writeFrame(t, ctx, conn, websocket.MessageText, map[string]any{"setupComplete": map[string]any{}})

		for range 2 {
			var in inputFrame
			readFrame(t, ctx, conn, &in)
			inputCh <- in
		}
		writeFrame(t, ctx, conn, websocket.MessageBinary, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAAAA=="}},
					},
				},
			},
		})
		writeFrame(t, ctx, conn, websocket.MessageText, map[string]any{
			"serverContent": map[string]any{
				"modelTurn":    map[string]any{"parts": []any{map[string]any{"text": "hello"}}},
				"turnComplete": true,
			},
		})
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	c := newTestClient(t, srv)
	assert.ErrorIs(t, c.Send(tools.EncodedChunk{MIMEType: tools.CaptureMIMEType, Data: "AAA="}), shared.ErrSessionNotOpen)

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.SetConfig(&SessionConfig{}), shared.ErrSessionAlreadyRunning)
	assert.ErrorIs(t, c.Connect(context.Background()), shared.ErrSessionAlreadyRunning)

	setup := <-setupCh
	assert.Equal(t, "test-key", <-keyCh)
	assert.Equal(t, "models/"+DefaultModel, setup.Setup.Model)
	assert.Equal(t, []string{"AUDIO"}, setup.Setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, DefaultVoice, setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Len(t, setup.Setup.SystemInstruction.Parts, 1)
	assert.Equal(t, DefaultSystemInstruction, setup.Setup.SystemInstruction.Parts[0].Text)

	assert.Equal(t, EventOpen, nextEvent(t, c.Events()).Type)
	assert.Equal(t, ClientStateOpen, c.State())

	require.NoError(t, c.Send(tools.EncodedChunk{MIMEType: tools.CaptureMIMEType, Data: "AQA="}))
	require.NoError(t, c.Send(tools.EncodedChunk{MIMEType: tools.CaptureMIMEType, Data: "AgA="}))
	for _, want := range []string{"AQA=", "AgA="} {
		in := <-inputCh
		require.Len(t, in.RealtimeInput.MediaChunks, 1)
		assert.Equal(t, "audio/pcm;rate=16000", in.RealtimeInput.MediaChunks[0].MIMEType)
		assert.Equal(t, want, in.RealtimeInput.MediaChunks[0].Data)
	}

	audio := nextEvent(t, c.Events())
	assert.Equal(t, EventAudio, audio.Type)
	assert.Equal(t, "AAAAAA==", audio.Audio)

	text := nextEvent(t, c.Events())
	assert.Equal(t, EventText, text.Type)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, EventTurnComplete, nextEvent(t, c.Events()).Type)
	assert.Equal(t, EventClosed, nextEvent(t, c.Events()).Type)

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.Equal(t, ClientStateClosed, c.State())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestClientAbnormalDropIsConnectionFailure(t *testing.T) {
	srv := startLiveServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, ctx, conn, &setup)
		writeFrame(t, ctx, conn, websocket.MessageText, map[string]any{"setupComplete": map[string]any{}})
		conn.Close(websocket.StatusInternalError, "boom")
	})

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, EventOpen, nextEvent(t, c.Events()).Type)

	ev := nextEvent(t, c.Events())
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, shared.ErrConnectionFailed)
	assert.Equal(t, ClientStateFailed, c.State())
}

func TestClientProtocolErrors(t *testing.T) {
	srv := startLiveServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, ctx, conn, &setup)
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeFrame(t, ctx, conn, websocket.MessageText, map[string]any{
			"error": map[string]any{"code": 400, "message": "bad setup", "status": "INVALID_ARGUMENT"},
		})
		<-conn.CloseRead(ctx).Done()
	})

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	ev := nextEvent(t, c.Events())
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, shared.ErrProtocol)

	ev = nextEvent(t, c.Events())
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, shared.ErrProtocol)
	assert.Contains(t, ev.Err.Error(), "bad setup")
}

func TestClientDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, shared.ErrConnectionFailed)
	assert.Equal(t, ClientStateFailed, c.State())
}

func TestClientOpenReportsFailureAsEvent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv)
	c.Open(context.Background())

	ev := nextEvent(t, c.Events())
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, shared.ErrConnectionFailed)
	_, ok := <-c.Events()
	assert.False(t, ok)
}

func TestClientCloseBeforeConnect(t *testing.T) {
	c, err := NewClient(context.Background(), shared.NewNopLogger(), "key", "ws://127.0.0.1:1")
	require.NoError(t, err)
	cfg := DefaultConfig().Session
	require.NoError(t, c.SetConfig(&cfg))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Error(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Send(tools.EncodedChunk{}), shared.ErrSessionNotOpen)
}

func TestClientDialSendsNothingUntilSetup(t *testing.T) {
	frames := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var first map[string]any
		readFrame(t, ctx, conn, &first)
		frames <- first
		<-conn.CloseRead(ctx).Done()
	})

	c := newTestClient(t, srv)
	assert.ErrorIs(t, c.Setup(context.Background()), shared.ErrSessionNotOpen)

	require.NoError(t, c.Dial(context.Background()))
	assert.Never(t, func() bool { return len(frames) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, ClientStateConnecting, c.State())

	require.NoError(t, c.Setup(context.Background()))
	assert.ErrorIs(t, c.Setup(context.Background()), shared.ErrSessionAlreadyRunning)
	select {
	case first := <-frames:
		assert.Contains(t, first, "setup")
	case <-time.After(3 * time.Second):
		t.Fatal("setup message not received")
	}
}

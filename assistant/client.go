package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/wtconnect/livevoice/shared"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	ModelFlash     = "gemini-2.5-flash"
	ModelFlashLite = "gemini-2.5-flash-lite"
	ModelPro       = "gemini-3-pro-preview"
	ModelProImage  = "gemini-3-pro-image-preview"
	ModelEditImage = "gemini-2.5-flash-image"
	ModelTTS       = "gemini-2.5-flash-preview-tts"
	ModelVideo     = "veo-3.1-fast-generate-preview"

	DefaultTTSVoice   = "Kore"
	DefaultImageSize  = "2K"
	DefaultResolution = "720p"
	DefaultPoll       = 5 * time.Second

	chatInstruction = "You are WTBot, a helpful AI assistant for WTConnect. You are professional, witty, and extremely capable."
	smartThinking   = 32768
	downloadTimeout = 2 * time.Minute
	maxRedirects    = 5
)

var ErrNoContent = errors.New("model returned no content")

type ChatMode string

const (
	ChatFast     ChatMode = "fast"
	ChatSmart    ChatMode = "smart"
	ChatCreative ChatMode = "creative"
)

func ParseChatMode(s string) (ChatMode, error) {
	switch m := ChatMode(strings.ToLower(s)); m {
	case ChatFast, ChatSmart, ChatCreative:
		return m, nil
	case "":
		return ChatFast, nil
	default:
		return "", fmt.Errorf("unknown chat mode %q", s)
	}
}

// Message is one prior turn of a chat; Role is "user" or "model".
type Message struct {
	Role string `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

type Source struct {
	Title string `json:"title" yaml:"title"`
	URI   string `json:"uri" yaml:"uri"`
}

type GroundedAnswer struct {
	Text    string   `json:"text" yaml:"text"`
	Sources []Source `json:"sources" yaml:"sources"`
}

type Media struct {
	MIMEType string
	Data     []byte
}

// Client issues one request per call against the Gemini API. Callers own
// its lifetime; there is no package-level instance.
type Client struct {
	logger shared.LoggerAdapter
	apiKey string
	genai  *genai.Client
	http   *fasthttp.Client

	// PollInterval is the wait between video operation polls.
	PollInterval time.Duration
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, apikey string, baseUrl string) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apikey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseUrl},
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{
		logger: logger,
		apiKey: apikey,
		genai:  gc,
		http: &fasthttp.Client{
			Name:        "livevoice/" + shared.Version,
			ReadTimeout: downloadTimeout,
		},
		PollInterval: DefaultPoll,
	}, nil
}

func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	c.logger.Debug("generating content", zap.String("model", model))
	resp, err := c.genai.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}
	return resp, nil
}

func (c *Client) generateText(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.generate(ctx, model, contents, cfg)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%s: %w", model, ErrNoContent)
	}
	return text, nil
}

// EnhancePost rewrites a draft for social media.
func (c *Client) EnhancePost(ctx context.Context, draft string) (string, error) {
	prompt := fmt.Sprintf("Rewrite this for social media (engaging, professional): %q", draft)
	return c.generateText(ctx, ModelFlash, genai.Text(prompt), nil)
}

func (c *Client) DraftPost(ctx context.Context, topic string) (string, error) {
	prompt := fmt.Sprintf("Write a short, engaging social media post about this topic: %q. Include emojis.", topic)
	return c.generateText(ctx, ModelFlash, genai.Text(prompt), nil)
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("Summarize this text in 2 short sentences: %q", text)
	return c.generateText(ctx, ModelFlashLite, genai.Text(prompt), nil)
}

// Chat continues history with message. Smart mode thinks longer and may
// search the web; its sources are appended to the reply.
func (c *Client) Chat(ctx context.Context, history []Message, message string, mode ChatMode) (string, error) {
	model := ModelFlashLite
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(chatInstruction, genai.RoleUser),
	}
	switch mode {
	case ChatSmart:
		model = ModelPro
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](smartThinking)}
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	case ChatCreative:
		cfg.Temperature = genai.Ptr[float32](1.3)
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == genai.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	resp, err := c.generate(ctx, model, contents, cfg)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%s: %w", model, ErrNoContent)
	}
	if sources := groundingSources(resp); len(sources) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\nSources:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- [%s](%s)\n", s.Title, s.URI)
		}
		text = b.String()
	}
	return text, nil
}

func (c *Client) AnalyzeImage(ctx context.Context, image Media, prompt string) (string, error) {
	if prompt == "" {
		prompt = "Describe this image in detail."
	}
	return c.generateText(ctx, ModelPro, mediaPrompt(image, prompt), nil)
}

// GenerateImage renders prompt at aspectRatio ("1:1", "16:9", ...).
func (c *Client) GenerateImage(ctx context.Context, prompt, aspectRatio string) (*Media, error) {
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}
	resp, err := c.generate(ctx, ModelProImage, genai.Text(prompt), &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: aspectRatio, ImageSize: DefaultImageSize},
	})
	if err != nil {
		return nil, err
	}
	return firstInline(ModelProImage, resp)
}

func (c *Client) EditImage(ctx context.Context, image Media, prompt string) (*Media, error) {
	resp, err := c.generate(ctx, ModelEditImage, mediaPrompt(image, prompt), nil)
	if err != nil {
		return nil, err
	}
	return firstInline(ModelEditImage, resp)
}

// TextToSpeech returns raw 16-bit mono PCM at 24 kHz.
func (c *Client) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.generate(ctx, ModelTTS, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: DefaultTTSVoice},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	audio, err := firstInline(ModelTTS, resp)
	if err != nil {
		return nil, err
	}
	return audio.Data, nil
}

func (c *Client) Transcribe(ctx context.Context, audio Media) (string, error) {
	if audio.MIMEType == "" {
		audio.MIMEType = "audio/mp3"
	}
	return c.generateText(ctx, ModelFlash, mediaPrompt(audio, "Transcribe this audio exactly."), nil)
}

// Ground answers query with Google Search and returns the cited pages.
func (c *Client) Ground(ctx context.Context, query string) (*GroundedAnswer, error) {
	resp, err := c.generate(ctx, ModelFlash, genai.Text(query), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return nil, err
	}
	return &GroundedAnswer{Text: resp.Text(), Sources: groundingSources(resp)}, nil
}

// GenerateVideo starts a video job, polls it until done and downloads the
// first result.
func (c *Client) GenerateVideo(ctx context.Context, prompt, aspectRatio string) (*Media, error) {
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}
	op, err := c.genai.Models.GenerateVideos(ctx, ModelVideo, prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     DefaultResolution,
		AspectRatio:    aspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ModelVideo, err)
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		c.logger.Debug("waiting for video", zap.String("operation", op.Name))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		op, err = c.genai.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("polling %s: %w", ModelVideo, err)
		}
	}
	if op.Error != nil {
		return nil, fmt.Errorf("%s: operation failed: %v", ModelVideo, op.Error)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, fmt.Errorf("%s: %w", ModelVideo, ErrNoContent)
	}

	video := op.Response.GeneratedVideos[0].Video
	if len(video.VideoBytes) > 0 {
		return &Media{MIMEType: video.MIMEType, Data: video.VideoBytes}, nil
	}
	return c.download(ctx, video.URI)
}

// download fetches uri, following at most maxRedirects hops. The API key
// is only sent to the first host.
func (c *Client) download(ctx context.Context, uri string) (*Media, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing video uri: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(downloadTimeout)
	}
	for hops := 0; ; hops++ {
		resp, err := c.get(ctx, u.String(), deadline)
		if err != nil {
			return nil, fmt.Errorf("downloading video: %w", err)
		}
		status := resp.StatusCode()
		if fasthttp.StatusCodeIsRedirect(status) {
			location := string(resp.Header.Peek(fasthttp.HeaderLocation))
			if location == "" {
				return nil, fmt.Errorf("downloading video: redirect %d without location", status)
			}
			if hops == maxRedirects {
				return nil, fmt.Errorf("downloading video: too many redirects")
			}
			next, err := u.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("parsing redirect location: %w", err)
			}
			if next.Host != u.Host {
				q := next.Query()
				q.Del("key")
				next.RawQuery = q.Encode()
			}
			u = next
			continue
		}
		if status != fasthttp.StatusOK {
			return nil, fmt.Errorf("downloading video: unexpected status code: %d", status)
		}
		return &Media{
			MIMEType: string(resp.Header.ContentType()),
			Data:     resp.Body(),
		}, nil
	}
}

// get performs one GET that returns early when ctx is done. The request
// keeps running until deadline in that case, so req and resp are not
// taken from the pool.
func (c *Client) get(ctx context.Context, uri string, deadline time.Time) (*fasthttp.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := new(fasthttp.Request)
	resp := new(fasthttp.Response)
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	done := make(chan error, 1)
	go func() { done <- c.http.DoDeadline(req, resp, deadline) }()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func mediaPrompt(m Media, prompt string) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromBytes(m.Data, m.MIMEType)}
	if prompt != "" {
		parts = append(parts, genai.NewPartFromText(prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func firstInline(model string, resp *genai.GenerateContentResponse) (*Media, error) {
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return &Media{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}, nil
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", model, ErrNoContent)
}

func groundingSources(resp *genai.GenerateContentResponse) []Source {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var sources []Source
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		sources = append(sources, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
	}
	return sources
}

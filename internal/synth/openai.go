package synth

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/reliability"
)

// OpenAIConfig configures the hosted speech provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty for the default endpoint
	Model   string // "tts-1" or "tts-1-hd"
}

// OpenAIProvider synthesizes speech through the OpenAI audio API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewError(CodeUnauthorized, false, "OPENAI_API_KEY is not set", nil)
	}
	model := openai.SpeechModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.TTSModel1HD
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, params cachekey.Params) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewError(CodeInvalidInput, false, "empty text", nil)
	}

	voice := openai.SpeechVoice(params.Voice)
	if params.Voice == "" {
		voice = openai.VoiceNova
	}
	speed := params.Speed
	if speed <= 0 {
		speed = 1.0
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice,
		Speed:          speed,
		ResponseFormat: responseFormat(params.Format),
	})
	if err != nil {
		return nil, classifyOpenAIError(ctx, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, NewError(CodeProvider, true, "read audio stream", err)
	}
	return audio, nil
}

func responseFormat(format string) openai.SpeechResponseFormat {
	switch strings.ToLower(format) {
	case "opus":
		return openai.SpeechResponseFormatOpus
	case "aac":
		return openai.SpeechResponseFormatAac
	case "flac":
		return openai.SpeechResponseFormatFlac
	case "wav":
		return openai.SpeechResponseFormatWav
	case "pcm":
		return openai.SpeechResponseFormatPcm
	default:
		return openai.SpeechResponseFormatMp3
	}
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewError(CodeTimeout, true, "provider call deadline exceeded", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return NewError(CodeUnauthorized, false, "provider rejected credentials", err)
		case apiErr.HTTPStatusCode == 429:
			return NewError(CodeRateLimited, true, "provider rate limit", err)
		case reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode):
			return NewError(CodeProvider, true, "provider unavailable", err)
		default:
			return NewError(CodeProvider, false, "provider request failed", err)
		}
	}
	// Network-level failures are worth retrying.
	return NewError(CodeProvider, true, "provider call failed", err)
}

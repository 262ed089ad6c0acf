package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"callscribe/internal/domain"
)

const defaultModel = "gpt-4o"

const systemPrompt = `You are an expert at analyzing call transcripts. Provide a structured summary with:

1. **Key Discussion Points** - Main topics covered
2. **Decisions Made** - Any concrete decisions or agreements
3. **Action Items** - Tasks assigned with owners if mentioned
4. **Next Steps** - Follow-up actions or meetings planned
5. **Important Mentions** - Key commitments, dates, or numbers

Format the response using markdown with clear sections and bullet points. Be concise but comprehensive.`

// Config controls the OpenAI summarizer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAISummarizer implements ports.Summarizer with streamed chat completions.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAISummarizer(cfg Config, logger *slog.Logger) *OpenAISummarizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With("component", "summary"),
	}
}

// Summarize streams a structured summary of transcript. onChunk, when set, receives
// each content delta in order; the full summary is returned at the end.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string, onChunk func(string)) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", domain.ErrEmptyTranscript
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Please analyze and summarize this call transcript:\n\n" + transcript},
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var summary strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("openai stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		summary.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}

	s.logger.Debug("summary generated", "model", s.model, "chars", summary.Len())
	return summary.String(), nil
}

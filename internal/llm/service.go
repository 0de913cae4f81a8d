package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RichardoC/talknow/internal/config"
	"github.com/RichardoC/talknow/internal/content"
	"github.com/RichardoC/talknow/internal/models"
)

// ErrorPrefix starts the text of every reply produced from a failed call.
const ErrorPrefix = "Sorry, I encountered an error: "

const emptyAnswer = "No response generated"

// Reply is a shaped answer ready to be stored as an assistant message.
type Reply struct {
	Content  models.Payload
	Language string
}

// Service sends chat messages to a language model and shapes the answers
// by the kind of request.
type Service struct {
	llm    llms.Model
	cfg    config.LLMConfig
	shaper content.Shaper
	logger *zap.Logger
}

// New builds a Service talking to an OpenAI-compatible endpoint.
func New(cfg config.LLMConfig, shaper content.Shaper, logger *zap.Logger) (*Service, error) {
	client, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}
	return NewWithModel(client, cfg, shaper, logger), nil
}

// NewWithModel builds a Service around an existing model client.
func NewWithModel(model llms.Model, cfg config.LLMConfig, shaper content.Shaper, logger *zap.Logger) *Service {
	if shaper == nil {
		shaper = content.TemplateShaper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: model, cfg: cfg, shaper: shaper, logger: logger}
}

// Respond sends message to the model and shapes the answer according to the
// classification of message. It makes exactly one attempt and never fails:
// errors come back as a markdown reply that starts with ErrorPrefix.
//
// history is only sent when the service is configured to include it.
func (s *Service) Respond(ctx context.Context, message string, history []models.Message) Reply {
	label := content.Classify(message)

	answer, err := s.complete(ctx, message, history)
	if err != nil {
		s.logger.Error("AI API error", zap.Error(err), zap.String("type", string(label)))
		return Reply{Content: models.Text(ErrorPrefix + err.Error())}
	}

	reply := Reply{Content: s.shaper.Shape(label, answer)}
	if reply.Content.ContentType() == models.ContentCode {
		reply.Language = s.cfg.CodeLanguage
		if _, ok := s.shaper.(content.StructuredShaper); ok {
			if lang := content.CodeLanguage(answer); lang != "" {
				reply.Language = lang
			}
		}
	}
	return reply
}

func (s *Service) complete(ctx context.Context, message string, history []models.Message) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, s.cfg.SystemPrompt),
	}
	if s.cfg.IncludeHistory {
		for _, m := range history {
			role := schema.ChatMessageTypeHuman
			if m.Role == models.RoleAssistant {
				role = schema.ChatMessageTypeAI
			}
			msgs = append(msgs, llms.TextParts(role, models.PlainText(m.Content)))
		}
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, message))

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, msgs,
		llms.WithMaxTokens(s.cfg.MaxTokens),
		llms.WithTemperature(s.cfg.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}

	answer := ""
	if len(resp.Choices) > 0 && resp.Choices[0] != nil {
		answer = resp.Choices[0].Content
	}
	if answer == "" {
		answer = emptyAnswer
	}

	if ce := s.logger.Check(zapcore.DebugLevel, "completion"); ce != nil {
		ce.Write(
			zap.String("model", s.cfg.Model),
			zap.Int("messages", len(msgs)),
			zap.Int("prompt_tokens_est", countTokens(message)),
			zap.Int("answer_tokens_est", countTokens(answer)),
			zap.Duration("took", time.Since(start)),
		)
	}
	return answer, nil
}

// encoding is set by LoadEncoding. Until then token counts are estimated.
var encoding atomic.Pointer[tiktoken.Tiktoken]

// LoadEncoding fetches the cl100k encoding used for debug token counts. The
// first call may download the encoding, so callers bound it with ctx; when
// ctx ends first the load keeps going in the background and is used once it
// completes.
func LoadEncoding(ctx context.Context) error {
	if encoding.Load() != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding.Store(enc)
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to load token encoding: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// countTokens counts text with the loaded encoding, or estimates four bytes
// per token when none is loaded. It never loads the encoding itself.
func countTokens(text string) int {
	enc := encoding.Load()
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Package ai fronts the generative models behind the site's chat, read-aloud and
// mission illustration features.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"curiousminds/internal/config"
	"curiousminds/internal/logging"
	"curiousminds/internal/models"
)

const (
	chatSystemInstruction = "CuriousMinds Assistant. Fast, sharp, concise."
	chatTemperature       = 0.5

	defaultGeminiChatModel = "gemini-flash-lite-latest"
	defaultSpeechModel     = "gemini-2.5-flash-preview-tts"
	defaultImageModel      = "gemini-2.5-flash-image"
	defaultVoice           = "Zephyr"
)

// ErrNotConfigured is returned when the provider a feature needs has no credentials.
var ErrNotConfigured = errors.New("ai provider not configured")

// contentGenerator is the slice of the genai Models API used for speech and images.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var newGenaiClient = func(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// chatModelFactory builds the eino chat model for a provider. Swapped in tests.
var chatModelFactory = newChatModel

type Service struct {
	chat        model.BaseChatModel
	media       contentGenerator
	speechModel string
	imageModel  string
	voice       string
	logger      *zap.Logger
}

// NewService wires the chat model selected by cfg.AI.ChatProvider and, when a Gemini
// key is configured, the speech and image models. Features without credentials
// answer ErrNotConfigured.
func NewService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	s := &Service{
		speechModel: orDefault(cfg.AI.SpeechModel, defaultSpeechModel),
		imageModel:  orDefault(cfg.AI.ImageModel, defaultImageModel),
		voice:       orDefault(cfg.AI.Voice, defaultVoice),
		logger:      logging.OrNop(logger).Named("ai"),
	}

	var geminiClient *genai.Client
	if prov, ok := cfg.Providers["gemini"]; ok && prov.APIKey != "" {
		client, err := newGenaiClient(ctx, prov.APIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		geminiClient = client
		s.media = client.Models
	}

	provider := orDefault(cfg.AI.ChatProvider, "gemini")
	prov, ok := cfg.Providers[provider]
	if !ok || prov.APIKey == "" {
		s.logger.Warn("chat provider has no credentials", zap.String("provider", provider))
		return s, nil
	}
	chat, err := chatModelFactory(ctx, provider, prov, geminiClient)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	s.chat = chat
	return s, nil
}

func newChatModel(ctx context.Context, provider string, prov config.ProviderConfig, geminiClient *genai.Client) (model.BaseChatModel, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: prov.BaseURL,
			Model:   prov.Model,
			APIKey:  prov.APIKey,
		})
	case "gemini":
		if geminiClient == nil {
			return nil, ErrNotConfigured
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: geminiClient,
			Model:  orDefault(prov.Model, defaultGeminiChatModel),
		})
	case "claude":
		var baseURLPtr *string
		if prov.BaseURL != "" {
			baseURLPtr = &prov.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    prov.APIKey,
			Model:     prov.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

// Chat answers message in the context of the floating chat history.
func (s *Service) Chat(ctx context.Context, history []models.ChatMessage, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message cannot be empty")
	}
	if s.chat == nil {
		return "", ErrNotConfigured
	}
	resp, err := s.chat.Generate(ctx, convertHistory(history, message), model.WithTemperature(chatTemperature))
	if err != nil {
		return "", fmt.Errorf("generate chat reply: %w", err)
	}
	return resp.Content, nil
}

func convertHistory(history []models.ChatMessage, message string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(chatSystemInstruction))
	for _, h := range history {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		switch h.Role {
		case models.RoleModel:
			messages = append(messages, schema.AssistantMessage(h.Text, nil))
		default:
			messages = append(messages, schema.UserMessage(h.Text))
		}
	}
	return append(messages, schema.UserMessage(message))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

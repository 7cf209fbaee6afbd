package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"modelarena/internal/config"
	"modelarena/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Backend turns (persona, history, prompt) into a streamed text response.
// onChunk receives the full cumulative text so far, not a delta; a late
// chunk therefore can never regress content as long as chunks for one
// stream are applied in receipt order. History may contain consecutive
// user messages when a model skipped turns.
type Backend interface {
	Stream(ctx context.Context, history []models.Message, prompt models.Message, onChunk func(cumulative string) error) (string, error)
}

type aiService struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	persona   string
}

// NewBackend builds the backend for one registry entry. Entries flagged
// web_search get a react agent wrapping the chat model with the search
// tool chain; everything else streams from the bare model.
func NewBackend(ctx context.Context, provCfg config.ProviderConfig, entry config.ModelEntry) (Backend, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	modelName := entry.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	switch entry.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", entry.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", entry.Provider, err)
	}

	var reactAgent *react.Agent
	if entry.WebSearch {
		var tools []tool.BaseTool
		if ws := InitWebSearch(); ws != nil {
			tools = append(tools, ws)
		}
		if len(tools) > 0 {
			reactAgent, err = react.NewAgent(ctx, &react.AgentConfig{
				ToolCallingModel: chatModel,
				ToolsConfig: compose.ToolsNodeConfig{
					Tools: tools,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("init react agent: %w", err)
			}
		}
	}

	return &aiService{
		chatModel: chatModel,
		agent:     reactAgent,
		persona:   entry.Persona,
	}, nil
}

// Stream sends the reconstructed history plus the new prompt upstream and
// forwards cumulative snapshots to onChunk until the stream ends.
func (s *aiService) Stream(ctx context.Context, history []models.Message, prompt models.Message, onChunk func(string) error) (string, error) {
	msgs := make([]*schema.Message, 0, len(history)+2)
	if s.persona != "" {
		msgs = append(msgs, &schema.Message{Role: schema.System, Content: s.persona})
	}
	for _, m := range history {
		msgs = append(msgs, convertMessage(m))
	}
	msgs = append(msgs, convertMessage(prompt))

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, msgs)
	} else {
		streamReader, err = s.chatModel.Stream(ctx, msgs)
	}
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}

	var fullContent string
	for {
		chunk, recvErr := streamReader.Recv()
		if errors.Is(recvErr, io.EOF) {
			// flow finished
			break
		}
		if recvErr != nil {
			return fullContent, fmt.Errorf("recv stream: %w", recvErr)
		}
		if chunk.Content == "" {
			continue
		}
		fullContent += chunk.Content
		if onChunk != nil {
			if err := onChunk(fullContent); err != nil {
				return fullContent, err
			}
		}
	}
	return fullContent, nil
}

func convertMessage(m models.Message) *schema.Message {
	var role schema.RoleType
	switch m.Role {
	case models.RoleUser:
		role = schema.User
	case models.RoleModel:
		role = schema.Assistant
	default:
		role = schema.User
	}

	if len(m.Attachments) == 0 {
		return &schema.Message{Role: role, Content: m.Content}
	}

	parts := make([]schema.ChatMessagePart, 0, len(m.Attachments)+1)
	if m.Content != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: m.Content,
		})
	}
	for _, att := range m.Attachments {
		dataURL := fmt.Sprintf("data:%s;base64,%s", att.MimeType, att.Data)
		switch att.Kind {
		case models.AttachmentVideo:
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeVideoURL,
				VideoURL: &schema.ChatMessageVideoURL{
					URL:      dataURL,
					MIMEType: att.MimeType,
				},
			})
		default:
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURL,
					MIMEType: att.MimeType,
				},
			})
		}
	}
	return &schema.Message{Role: role, MultiContent: parts}
}

package service

import (
	"context"
	"errors"
	"strings"

	"canvasboard/internal/ask/model"
	"canvasboard/internal/canvas"
	"canvasboard/internal/llm"
	"canvasboard/pkg/logger"
)

const SystemPrompt = `You are a helpful AI assistant that generates rich, interactive UI responses.
When answering questions:
- Use markdown formatting for better readability
- Create tables for comparisons
- Use lists for step-by-step instructions
- Use code blocks with syntax highlighting for code examples
- Be concise but informative
- Generate visual, card-like responses when appropriate`

const defaultRoomID = "default"

var ErrEmptyPrompt = errors.New("prompt must not be empty")

// Streamer streams a chat completion, calling onDelta for each text piece.
type Streamer interface {
	StreamChat(ctx context.Context, messages []llm.Message, onDelta func(string) error) error
}

type ShapeSource interface {
	Shapes(ctx context.Context, roomID string, ids []string) ([]canvas.Shape, error)
}

type AskService struct {
	LLM    Streamer
	Shapes ShapeSource
}

func NewAskService(streamer Streamer, shapes ShapeSource) *AskService {
	return &AskService{LLM: streamer, Shapes: shapes}
}

// BuildMessages assembles the conversation sent upstream.
func (s *AskService) BuildMessages(ctx context.Context, req model.AskRequest) ([]llm.Message, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: req.Prompt},
	}
	if req.Context != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Additional context: " + req.Context})
	}
	if canvasText := s.canvasContext(ctx, req); canvasText != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Selected canvas content:\n" + canvasText})
	}
	return messages, nil
}

func (s *AskService) canvasContext(ctx context.Context, req model.AskRequest) string {
	if len(req.ShapeIDs) == 0 || s.Shapes == nil {
		return ""
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = defaultRoomID
	}
	shapes, err := s.Shapes.Shapes(ctx, roomID, req.ShapeIDs)
	if err != nil {
		logger.Sugar.Warnf("Could not resolve shapes for ask in room %s: %v", roomID, err)
		return ""
	}

	var lines []string
	for _, sh := range shapes {
		if text := strings.TrimSpace(canvas.ShapeText(sh)); text != "" {
			lines = append(lines, "- "+text)
		}
	}
	return strings.Join(lines, "\n")
}

// Stream runs the completion for messages.
func (s *AskService) Stream(ctx context.Context, messages []llm.Message, onDelta func(string) error) error {
	return s.LLM.StreamChat(ctx, messages, onDelta)
}

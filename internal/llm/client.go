// Package llm talks to OpenAI-compatible endpoints: streamed chat for /api/ask,
// embeddings for RAG and vision transcription for handwriting.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"canvasboard/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"

	embeddingBatchSize = 100
)

var ErrNotConfigured = errors.New("llm client is not configured")

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	VisionModel    string
	MaxRetries     int
}

type Client struct {
	api openai.Client
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.APIKey == "" {
		return &Client{cfg: cfg}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Client{api: openai.NewClient(opts...), cfg: cfg}
}

func (c *Client) configured() bool {
	return c.cfg.APIKey != ""
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// StreamChat streams a chat completion, calling onDelta for every non-empty
// content delta. It stops early if onDelta returns an error.
func (c *Client) StreamChat(ctx context.Context, messages []Message, onDelta func(string) error) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.ChatModel),
		Messages: toParams(messages),
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("chat stream: %w", err)
	}
	return nil
}

// Embed returns one vector per input text, in input order. Requests are sent
// in batches of 100.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		logger.Sugar.Infof("Generating embeddings for batch %d (%d texts)", start/embeddingBatchSize+1, len(batch))

		resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			return nil, fmt.Errorf("embeddings batch %d: %w", start/embeddingBatchSize+1, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embeddings batch %d: got %d vectors for %d texts", start/embeddingBatchSize+1, len(resp.Data), len(batch))
		}

		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, d := range data {
			all = append(all, toFloat32(d.Embedding))
		}
		logger.Sugar.Infof("Generated %d embeddings, tokens used: %d", len(data), resp.Usage.TotalTokens)
	}
	return all, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

const transcribePrompt = "Transcribe the handwritten text in this image exactly as written. " +
	"Preserve line breaks. Return only the transcription, or an empty reply if there is no legible text."

// Transcribe reads handwriting from a PNG image with the vision model.
func (c *Client) Transcribe(ctx context.Context, png []byte) (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.VisionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(transcribePrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

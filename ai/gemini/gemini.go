// Package gemini implements ai.Embedder and ai.Generator with Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"google.golang.org/genai"
)

// Client holds one genai client shared by the embedder and the generator.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// NewClient creates a Gemini API client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		client: client,
		logger: slog.Default().With("component", "gemini"),
	}, nil
}

// Embedder implements ai.Embedder using Gemini embedding models.
type Embedder struct {
	client     *Client
	model      string
	dimensions int32
	timeout    time.Duration
}

// NewEmbedder creates an embedder that asks for vectors of config.Dimensions.
func NewEmbedder(client *Client, config *ai.Config) (ai.Embedder, error) {
	if client == nil {
		return nil, errors.New("gemini: client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Embedder{
		client:     client,
		model:      config.EmbeddingModel,
		dimensions: int32(config.Dimensions),
		timeout:    config.RequestTimeout,
	}, nil
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds all texts in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dims := e.dimensions
	result, err := e.client.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		e.client.logger.Error("embedding generation failed", "count", len(texts), "err", err)
		return nil, ai.Classify(err)
	}
	if result == nil || len(result.Embeddings) == 0 {
		return nil, ai.ErrEmptyResponse
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb != nil {
			vectors[i] = emb.Values
		}
	}
	return vectors, nil
}

// Generator implements ai.Generator using Gemini chat models.
type Generator struct {
	client      *Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

// NewGenerator creates a generator from config.
func NewGenerator(client *Client, config *ai.Config) (ai.Generator, error) {
	if client == nil {
		return nil, errors.New("gemini: client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		client:      client,
		model:       config.GeneratorModel,
		temperature: float32(config.Temperature),
		maxTokens:   int32(config.MaxTokens),
		timeout:     config.RequestTimeout,
	}, nil
}

// Generate sends prompt with system as the system instruction and asks for JSON.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		MaxOutputTokens:  g.maxTokens,
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.client.logger.Error("chat generation failed", "err", err)
		return "", ai.Classify(err)
	}
	return responseText(resp)
}

// responseText returns the text of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ai.ErrEmptyResponse
	}

	var text strings.Builder
	blocked := false
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if candidate.FinishReason == genai.FinishReasonSafety {
			blocked = true
			continue
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			break
		}
	}

	if text.Len() == 0 {
		if blocked {
			return "", ai.ErrSafetyRejected
		}
		return "", ai.ErrEmptyResponse
	}
	return text.String(), nil
}

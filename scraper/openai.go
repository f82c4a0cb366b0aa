package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aluiziolira/go-scrape-alaska/config"
	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/parser"
)

const pageTextLimit = 12000

const extractionPrompt = `You extract product data from the text of a Vietnamese commercial refrigeration product page.
Return one JSON object with exactly these keys:
"name": product name (string),
"category": product category (string, empty if unknown),
"msp": model/product code (string, empty if unknown),
"prices": object mapping the region label exactly as written (e.g. "MIỀN BẮC") to the price exactly as written (e.g. "15.900.000 VNĐ"),
"specifications": object mapping each technical label exactly as written to its value,
"features": array of short feature strings,
"description": prose description (string, at most 1000 characters).
All values must be strings. Use empty strings, empty objects or empty arrays when information is missing. Never invent data.`

// OpenAIExtractor fetches a page and asks a chat model to turn its text
// into a product record. Images are taken from the HTML directly.
type OpenAIExtractor struct {
	fetcher Fetcher
	client  *openai.Client
	model   string
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type llmProduct struct {
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	MSP            string        `json:"msp"`
	Prices         models.Fields `json:"prices"`
	Specifications models.Fields `json:"specifications"`
	Features       []string      `json:"features"`
	Description    string        `json:"description"`
}

// NewOpenAIExtractor builds the chat-model strategy.
func NewOpenAIExtractor(cfg *config.Config, fetcher Fetcher, client *http.Client, metrics *Metrics, logger *slog.Logger) *OpenAIExtractor {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	if client != nil {
		clientCfg.HTTPClient = client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIExtractor{
		fetcher: fetcher,
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.OpenAIModel,
		metrics: metrics,
		logger:  logger.With("component", "openai"),
		now:     time.Now,
	}
}

// Extract implements Extractor.
func (e *OpenAIExtractor) Extract(ctx context.Context, url string) (*models.Product, error) {
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	html := page.HTML()
	text := parser.PageText(html, pageTextLimit)
	if text == "" {
		return nil, fmt.Errorf("page %s has no text", url)
	}

	e.metrics.IncRequest("api")
	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "URL: " + url + "\n\n" + text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	e.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty completion")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	var extracted llmProduct
	if err := json.Unmarshal([]byte(content), &extracted); err != nil {
		e.logger.Debug("unparseable completion", slog.String("url", url), slog.String("content", content))
		return nil, fmt.Errorf("decode openai completion: %w", err)
	}

	product := models.NewProduct(url, e.now())
	product.Name = extracted.Name
	product.Category = extracted.Category
	product.MSP = extracted.MSP
	product.Prices = extracted.Prices
	product.Specifications = extracted.Specifications
	product.Features = extracted.Features
	product.Description = extracted.Description
	product.Images = parser.ExtractImages(html, url)
	parser.NormalizeProduct(product)
	return product, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyError(err, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyError(err, reqErr.HTTPStatusCode)
	}
	return classifyError(err, 0)
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

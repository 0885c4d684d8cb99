// Package ollamaclient wraps the Ollama API client for the memai chat loop.
// Ollama is a local LLM runtime that allows running open-source models.
package ollamaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"memai/pkg/contextmgr"
	"memai/pkg/logx"
)

// heuristicWindowCap bounds name-guessed context windows so memory files
// cannot grow unbounded on a misleading model name. Server-reported windows
// are trusted as-is.
const heuristicWindowCap = 20000

// Client talks to a single Ollama server.
type Client struct {
	api            *api.Client
	logger         *logx.Logger
	hostURL        string
	fallbackWindow int
}

// New creates a client for the given Ollama server URL (e.g.
// "http://localhost:11434"). fallbackWindow is the context window assumed
// when neither the server nor the model name yields one.
func New(hostURL string, fallbackWindow int) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		// Fall back to default if URL is invalid
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	if fallbackWindow <= 0 {
		fallbackWindow = 4000
	}

	return &Client{
		api:            api.NewClient(parsedURL, http.DefaultClient),
		logger:         logx.NewLogger("ollama"),
		hostURL:        hostURL,
		fallbackWindow: fallbackWindow,
	}
}

// Host returns the server URL this client talks to.
func (c *Client) Host() string {
	return c.hostURL
}

// Available reports whether the server answers at all.
func (c *Client) Available(ctx context.Context) error {
	if _, err := c.api.Version(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// ListModels returns the names of all models installed on the server,
// in server order.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	names := make([]string, 0, len(resp.Models))
	for i := range resp.Models {
		names = append(names, resp.Models[i].Name)
	}
	return names, nil
}

// LoadedModels returns the set of model names currently resident in memory
// on the server.
func (c *Client) LoadedModels(ctx context.Context) (map[string]bool, error) {
	resp, err := c.api.ListRunning(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	loaded := make(map[string]bool, len(resp.Models))
	for i := range resp.Models {
		loaded[resp.Models[i].Name] = true
	}
	return loaded, nil
}

// ContextWindow determines the context window for a model. The server's
// model metadata is authoritative; if it is unavailable the model name is
// matched against common size markers, with a conservative default.
func (c *Client) ContextWindow(ctx context.Context, model string) (int, error) {
	if model == "" {
		return 0, fmt.Errorf("model name must not be empty")
	}

	resp, err := c.api.Show(ctx, &api.ShowRequest{Model: model})
	if err == nil {
		if window := contextLengthFromInfo(resp.ModelInfo); window > 0 {
			c.logger.Debug("model %s reports context window %d", model, window)
			return window, nil
		}
	} else {
		c.logger.Debug("show %s failed, falling back to name heuristic: %v", model, err)
	}

	return c.windowFromName(model), nil
}

// contextLengthFromInfo digs the context length out of Show's model info.
// The key is architecture-prefixed, e.g. "llama.context_length".
func contextLengthFromInfo(info map[string]any) int {
	for key, value := range info {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		}
	}
	return 0
}

// windowFromName guesses a context window from size markers in the model
// name. Guesses are capped so memory files stay bounded.
func (c *Client) windowFromName(model string) int {
	name := strings.ToLower(model)

	var window int
	switch {
	case strings.Contains(name, "32k"):
		window = 32000
	case strings.Contains(name, "16k"):
		window = 16000
	case strings.Contains(name, "8k"):
		window = 8000
	case strings.Contains(name, "4k"):
		window = 4000
	case strings.Contains(name, "7b"), strings.Contains(name, "3b"):
		window = 4000
	case strings.Contains(name, "14b"), strings.Contains(name, "13b"):
		window = 8000
	default:
		window = c.fallbackWindow
	}

	if window > heuristicWindowCap {
		window = heuristicWindowCap
	}
	return window
}

// EnsureLoaded warms a model up by sending a trivial chat request, so the
// first real turn does not pay the load latency.
func (c *Client) EnsureLoaded(ctx context.Context, model string) error {
	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: "test"}},
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": 1,
		},
	}

	err := c.api.Chat(ctx, req, func(api.ChatResponse) error { return nil })
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// ChatRequest is a single non-streaming completion request.
type ChatRequest struct {
	Model       string
	Messages    []contextmgr.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// ChatResponse carries the assistant reply plus server-side token counts
// when the server reports them.
type ChatResponse struct {
	Content      string
	DoneReason   string
	PromptTokens int
	ReplyTokens  int
}

// Chat sends a non-streaming chat request and returns the reply.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (ChatResponse, error) {
	if in.Model == "" {
		return ChatResponse{}, fmt.Errorf("model name must not be empty")
	}
	if len(in.Messages) == 0 {
		return ChatResponse{}, fmt.Errorf("message list cannot be empty")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    in.Model,
		Messages: convertMessages(in.Messages),
		Stream:   &stream,
	}
	if in.MaxTokens > 0 || in.Temperature > 0 {
		req.Options = make(map[string]any, 2)
		if in.MaxTokens > 0 {
			req.Options["num_predict"] = in.MaxTokens
		}
		if in.Temperature > 0 {
			req.Options["temperature"] = in.Temperature
		}
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return ChatResponse{}, classifyError(err)
	}

	return ChatResponse{
		Content:      strings.TrimSpace(response.Message.Content),
		DoneReason:   doneReason(&response),
		PromptTokens: response.PromptEvalCount,
		ReplyTokens:  response.EvalCount,
	}, nil
}

// convertMessages converts our message format to Ollama's Message format.
func convertMessages(messages []contextmgr.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i := range messages {
		result[i] = api.Message{
			Role:    messages[i].Role,
			Content: messages[i].Content,
		}
	}
	return result
}

// doneReason normalizes Ollama's done_reason.
func doneReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError wraps Ollama errors with actionable messages.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return fmt.Errorf("ollama server not reachable: %w", err)
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return fmt.Errorf("ollama model not found: %w", err)
	case strings.Contains(errStr, "context canceled"):
		return fmt.Errorf("request canceled: %w", err)
	case strings.Contains(errStr, "timeout"):
		return fmt.Errorf("request timeout: %w", err)
	default:
		return fmt.Errorf("ollama API error: %w", err)
	}
}

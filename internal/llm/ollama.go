package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
)

// maxImageBytes caps images downloaded for Ollama, which only accepts
// inline base64.
const maxImageBytes = 10 << 20

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	// Local models may load from disk before answering.
	t.ResponseHeaderTimeout = 5 * time.Minute

	return &OllamaClient{
		baseURL: baseURL,
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	msgs, err := c.convertToOllama(ctx, req)
	if err != nil {
		return nil, err
	}

	oreq := ollamaRequest{
		Model:    req.Model,
		Messages: msgs,
		Tools:    req.Tools,
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		oreq.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	jsonData, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var oresp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := convertFromOllama(&oresp)
	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	return result, nil
}

// Ping checks that the Ollama server answers.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *OllamaClient) convertToOllama(ctx context.Context, req *Request) ([]ollamaMessage, error) {
	var out []ollamaMessage
	if req.System != "" {
		out = append(out, ollamaMessage{Role: "system", Content: req.System})
	}

	// Ollama has no tool call IDs; results are matched by name.
	names := make(map[string]string)

	for _, msg := range req.Messages {
		switch {
		case msg.Role == RoleAssistant:
			om := ollamaMessage{Role: RoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				var otc ollamaToolCall
				otc.Function.Name = tc.Function.Name
				otc.Function.Arguments = tc.Function.Arguments
				om.ToolCalls = append(om.ToolCalls, otc)
				names[tc.ID] = tc.Function.Name
			}
			out = append(out, om)

		case len(msg.ToolResults) > 0:
			for _, tr := range msg.ToolResults {
				out = append(out, ollamaMessage{
					Role:     "tool",
					Content:  tr.Content,
					ToolName: names[tr.ToolCallID],
				})
			}
			if msg.Content != "" {
				out = append(out, ollamaMessage{Role: RoleUser, Content: msg.Content})
			}

		default:
			om := ollamaMessage{Role: RoleUser, Content: msg.Content}
			for _, img := range msg.Images {
				data, err := c.imageData(ctx, img)
				if err != nil {
					return nil, err
				}
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(data))
			}
			out = append(out, om)
		}
	}
	return out, nil
}

func (c *OllamaClient) imageData(ctx context.Context, img Image) ([]byte, error) {
	if len(img.Data) > 0 {
		return img.Data, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func convertFromOllama(resp *ollamaResponse) *ChatResponse {
	var calls []ToolCall
	for i, tc := range resp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{
			ID:       fmt.Sprintf("call_%d_%s", i, tc.Function.Name),
			Function: ToolFunction{Name: tc.Function.Name, Arguments: args},
		})
	}

	stop := StopDone
	switch {
	case len(calls) > 0:
		stop = StopNeedsTools
	case resp.DoneReason == "length":
		stop = StopMaxTokens
	}

	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		},
		StopReason:   stop,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// DeepSeekClient implements ports.Completer against an OpenAI-compatible
// chat completions endpoint.
type DeepSeekClient struct {
	api            *apiclient.Client
	endpoint       string
	model          string
	reasoningModel string
	apiKey         string
}

var (
	_ ports.Completer    = (*DeepSeekClient)(nil)
	_ ports.NewsAnalyzer = (*DeepSeekClient)(nil)
)

// NewDeepSeekClient builds a client from configuration.
func NewDeepSeekClient(cfg config.DeepSeekConfig, api *apiclient.Client) *DeepSeekClient {
	return &DeepSeekClient{
		api:            api,
		endpoint:       cfg.Endpoint,
		model:          cfg.Model,
		reasoningModel: cfg.ReasoningModel,
		apiKey:         cfg.APIKey,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the trimmed reply.
func (c *DeepSeekClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	return c.complete(ctx, c.model, prompt, temperature)
}

func (c *DeepSeekClient) complete(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	if c == nil {
		return "", fmt.Errorf("deepseek client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || model == "" {
		return "", fmt.Errorf("deepseek client misconfigured")
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal deepseek payload: %w", err)
	}

	var content string
	_, err = c.api.Call(ctx, apiclient.Request{
		Name:   "llm.complete",
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"Content-Type":  []string{"application/json"},
		},
		Body: body,
		Check: func(resp apiclient.Response) error {
			var parsed chatResponse
			if err := resp.DecodeJSON(&parsed); err != nil {
				return err
			}
			if len(parsed.Choices) == 0 {
				return errors.New("empty choices")
			}
			// An empty message is a valid answer when nothing matched.
			content = strings.TrimSpace(parsed.Choices[0].Message.Content)
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// AnalyzeNews asks the reasoning model whether text is bullish, bearish or
// neutral for the market.
func (c *DeepSeekClient) AnalyzeNews(ctx context.Context, text string) (domain.Sentiment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Sentiment{}, errors.New("analyze news: empty text")
	}
	model := c.reasoningModel
	if model == "" {
		model = c.model
	}
	reply, err := c.complete(ctx, model, sentimentPrompt(text), 0.3)
	if err != nil {
		return domain.Sentiment{}, err
	}
	return ParseSentiment(reply), nil
}

func sentimentPrompt(text string) string {
	return "你是一个金融分析师，请根据以下新闻判断其对市场的影响，" +
		"结论应为【利好】、【利空】或【中性】，并简要说明理由。" +
		"\n\n新闻内容：\n" + text + "\n\n" +
		"请严格按照格式回答：\n" +
		"结论：【利好/利空/中性】\n" +
		"理由：XXX"
}

// ParseSentiment reads the "结论/理由" reply format.
func ParseSentiment(reply string) domain.Sentiment {
	conclusion := domain.ConclusionUnknown
	for _, c := range []domain.Conclusion{domain.ConclusionBullish, domain.ConclusionBearish, domain.ConclusionNeutral} {
		if strings.Contains(reply, "【"+string(c)+"】") {
			conclusion = c
			break
		}
	}
	reason := reply
	if idx := strings.LastIndex(reply, "理由："); idx >= 0 {
		reason = reply[idx+len("理由："):]
	}
	return domain.Sentiment{Conclusion: conclusion, Reason: strings.TrimSpace(reason)}
}

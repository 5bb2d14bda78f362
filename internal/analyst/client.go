package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/market"
)

// Client 封装行情分析的大模型调用。
// 分析是独立的异步请求，结果只做展示，不进入结算路径。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建分析客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// Analyze 针对单个品种请求模型评级。
func (c *Client) Analyze(ctx context.Context, symbol string, typ market.InstrumentType) (Rating, error) {
	if c.cfg.Model == "" {
		return Rating{}, errors.New("openai model 不能为空")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(symbol, typ),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Rating{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Rating{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Rating{}, errors.New("OpenAI 返回内容为空")
	}

	rating, err := parseRating(rawContent)
	if err != nil {
		c.logger.Error("解析模型评级失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Rating{}, err
	}
	rating.Symbol = symbol

	if err := rating.Validate(); err != nil {
		return Rating{}, err
	}

	c.logger.Info("行情评级生成成功",
		zap.String("symbol", symbol),
		zap.String("rating", rating.Rating),
		zap.Float64("confidence", rating.Confidence),
	)

	return rating, nil
}

func buildPrompt(symbol string, typ market.InstrumentType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the current trading conditions for %s (%s).\n", symbol, typ)
	b.WriteString("Explain the trend, support & resistance, and momentum.\n")
	b.WriteString("Output a single JSON object with exactly these fields:\n")
	b.WriteString(`1. "rating": one of "Strong Buy" | "Buy" | "Neutral" | "Weak Sell" | "Strong Sell"` + "\n")
	b.WriteString(`2. "confidence": number between 0 and 100` + "\n")
	b.WriteString(`3. "explanation": a very simple, friendly explanation for a beginner` + "\n")
	b.WriteString("Use a mentoring tone. Keep sentences short. Return only the JSON object.")
	return b.String()
}

func parseRating(content string) (Rating, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Rating{}, err
	}

	var rating Rating
	if err = json.Unmarshal(jsonPayload, &rating); err != nil {
		return Rating{}, fmt.Errorf("解析评级JSON失败: %w", err)
	}

	return rating, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}

package llm

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/datalingua-dev/openclaw-wechat/config"
)

type OpenAIProvider struct {
	client *resty.Client
	config config.LLMConfig
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client: resty.New(),
		config: cfg,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	model := p.config.ModelName
	if model == "" {
		switch p.config.Provider {
		case "openai":
			model = "gpt-4o-mini"
		default:
			model = "deepseek-chat"
		}
	}

	reqBody := openAIRequest{
		Model:    model,
		Messages: messages,
	}

	var respBody openAIResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.config.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(p.config.APIURL + "/chat/completions")

	if err != nil {
		return "", err
	}

	if resp.IsError() {
		return "", fmt.Errorf("LLM API error: %s", resp.String())
	}

	if len(respBody.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	return respBody.Choices[0].Message.Content, nil
}

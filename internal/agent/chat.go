package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/datalingua-dev/openclaw-wechat/internal/llm"
	"github.com/datalingua-dev/openclaw-wechat/internal/model"
	"github.com/datalingua-dev/openclaw-wechat/internal/session"
)

type ChatAgent struct {
	LLM     llm.Provider
	Session *session.Manager
}

func NewChatAgent(p llm.Provider, session *session.Manager) *ChatAgent {
	return &ChatAgent{
		LLM:     p,
		Session: session,
	}
}

func (a *ChatAgent) Name() string {
	return "ChatAgent"
}

const systemPrompt = `# Role
You are an AI assistant reached through WeCom (企业微信).

# Directives
1. Answer directly and concisely; chat messages are read on a phone.
2. Match the user's language (mostly Chinese).
3. Plain markdown only; it is converted to plain text before delivery.
4. When the user sent media, the message describes it in brackets; respond to
   what the description tells you, never pretend to have watched or listened.`

func (a *ChatAgent) Process(ctx context.Context, msg *model.InternalMessage) (string, error) {
	// 1. Hardcoded liveness replies
	if strings.TrimSpace(msg.Text) == "ping" {
		return "pong (企业微信连接正常)", nil
	}
	if strings.TrimSpace(msg.Text) == "测试" {
		return "收到测试消息，系统运行正常！", nil
	}

	// 2. Load History
	sessionID := msg.SessionKey()
	history, err := a.Session.GetHistory(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("agent: load history: %w", err)
	}

	// 3. Construct Messages
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: msg.Text})

	// 4. Call LLM
	reply, err := a.LLM.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	// 5. Persist the round
	_ = a.Session.Append(ctx, sessionID,
		llm.Message{Role: "user", Content: msg.Text},
		llm.Message{Role: "assistant", Content: reply},
	)

	return reply, nil
}

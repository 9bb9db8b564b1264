package callback

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/model"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

const helpText = `🤖 AI 助手使用帮助

可用命令：
/help - 显示此帮助信息
/clear - 清除会话历史，开始新对话
/status - 查看系统状态

直接发送消息即可与 AI 对话。

支持发送图片、语音、视频和文件。`

// handleCommand intercepts slash commands before agent dispatch. Returns
// handled=false for unknown commands so they reach the agent as plain text.
func (p *Processor) handleCommand(ctx context.Context, acct *account.Config, cred wecom.Credentials, env *wecom.Envelope) (handled bool, err error) {
	command := strings.ToLower(strings.Fields(env.Content)[0])

	switch command {
	case "/help":
		return true, p.Client.SendText(ctx, cred, env.FromUserName, helpText)

	case "/clear":
		p.Sessions.Clear(ctx, p.sessionKey(acct, env))
		return true, p.Client.SendText(ctx, cred, env.FromUserName, "✅ 会话已清除，我们可以开始新的对话了！")

	case "/status":
		return true, p.Client.SendText(ctx, cred, env.FromUserName, p.statusText(ctx, acct, env))

	default:
		return false, nil
	}
}

func (p *Processor) statusText(ctx context.Context, acct *account.Config, env *wecom.Envelope) string {
	sessionKey := p.sessionKey(acct, env)
	historyCount := p.Sessions.Count(ctx, sessionKey)

	p.Logger.Info("handling status command",
		zap.String("account", acct.AccountID), zap.String("session", sessionKey))

	return fmt.Sprintf(`📊 系统状态

渠道：企业微信 (WeCom)
会话ID：%s
当前账户：%s
对话历史：%d 条（上限 %d 条）

功能状态：
✅ 文本消息
✅ 图片发送/接收
✅ 视频消息接收
✅ 文件消息接收
✅ 消息分段 (%d 字节)
✅ 对话历史记忆
✅ 命令系统
✅ Markdown 转换
✅ API 限流`,
		sessionKey, acct.AccountID, historyCount, p.Sessions.Limit(), wecom.DefaultTextByteLimit)
}

func (p *Processor) sessionKey(acct *account.Config, env *wecom.Envelope) string {
	chatType := "private"
	if env.IsGroupChat() {
		chatType = "group"
	}
	msg := &model.InternalMessage{
		Platform:  "wecom",
		AccountID: acct.AccountID,
		ChatType:  chatType,
		ChatID:    env.ChatID,
		UserID:    env.FromUserName,
	}
	return msg.SessionKey()
}

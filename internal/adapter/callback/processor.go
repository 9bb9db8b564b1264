package callback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/core"
	"github.com/datalingua-dev/openclaw-wechat/internal/model"
	"github.com/datalingua-dev/openclaw-wechat/internal/ratelimit"
	"github.com/datalingua-dev/openclaw-wechat/internal/session"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

// filePreviewLimit caps how much of a text file is inlined into the message.
const filePreviewLimit = 3000

var textFileExts = []string{".txt", ".md", ".json", ".xml", ".csv", ".log", ".yaml", ".yml"}

// Processor turns decrypted envelopes into agent conversations: it resolves
// commands, downloads media, dispatches to the agent, and delivers the reply
// back through the WeCom client. All processing runs under its limiter,
// decoupled from the webhook response.
type Processor struct {
	Client     *wecom.Client
	Dispatcher *core.Dispatcher
	Sessions   *session.Manager
	Limiter    *ratelimit.Limiter
	Logger     *zap.Logger
	StateDir   string
}

func NewProcessor(client *wecom.Client, dispatcher *core.Dispatcher, sessions *session.Manager, limiter *ratelimit.Limiter, stateDir string, logger *zap.Logger) *Processor {
	if stateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			stateDir = filepath.Join(home, ".openclaw-wechat")
		} else {
			stateDir = os.TempDir()
		}
	}
	return &Processor{
		Client:     client,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Limiter:    limiter,
		Logger:     logger,
		StateDir:   stateDir,
	}
}

// Enqueue schedules envelope processing on the limiter. The HTTP response
// was already written; failures here are logged, never re-surfaced.
func (p *Processor) Enqueue(acct *account.Config, env *wecom.Envelope) {
	go func() {
		err := p.Limiter.Do(func() error {
			return p.process(context.Background(), acct, env)
		})
		if err != nil {
			p.Logger.Error("async message processing failed",
				zap.String("account", acct.AccountID),
				zap.String("from", env.FromUserName),
				zap.Error(err))
		}
	}()
}

func (p *Processor) process(ctx context.Context, acct *account.Config, env *wecom.Envelope) error {
	cred := wecom.Credentials{CorpID: acct.CorpID, CorpSecret: acct.CorpSecret, AgentID: acct.AgentID}
	fromUser := env.FromUserName

	// Commands short-circuit agent dispatch.
	if env.MsgType == "text" && strings.HasPrefix(env.Content, "/") {
		if handled, err := p.handleCommand(ctx, acct, cred, env); handled {
			return err
		}
	}

	messageText, mediaPath := p.describeMessage(ctx, cred, env)
	if messageText == "" {
		p.Logger.Info("ignoring unsupported message",
			zap.String("account", acct.AccountID), zap.String("msg_type", env.MsgType))
		return nil
	}

	chatType := "private"
	if env.IsGroupChat() {
		chatType = "group"
	}
	msg := &model.InternalMessage{
		Platform:   "wecom",
		AccountID:  acct.AccountID,
		ChatType:   chatType,
		ChatID:     env.ChatID,
		UserID:     fromUser,
		Username:   fromUser,
		Text:       messageText,
		MsgType:    env.MsgType,
		MediaPath:  mediaPath,
		MessageSid: "wecom-" + uuid.NewString()[:8],
		Timestamp:  env.CreateTime,
	}

	reply, err := p.Dispatcher.Dispatch(ctx, msg)
	if err != nil {
		p.sendApology(ctx, cred, fromUser, err)
		return fmt.Errorf("dispatch: %w", err)
	}
	if reply == "" {
		return nil
	}

	formatted := wecom.MarkdownToText(reply)
	if err := p.Client.SendText(ctx, cred, fromUser, formatted); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// describeMessage produces the text handed to the agent, downloading media
// to local storage where applicable. Frame extraction and transcription are
// out of scope; media is described, not analyzed.
func (p *Processor) describeMessage(ctx context.Context, cred wecom.Credentials, env *wecom.Envelope) (text, mediaPath string) {
	switch env.MsgType {
	case "text":
		return env.Content, ""

	case "image":
		path, err := p.downloadToStateDir(ctx, cred, env.MediaID, "image", "")
		if err != nil && env.PicURL != "" {
			// fall back to the preview URL WeCom includes
			if data, _, ferr := p.Client.FetchMedia(ctx, env.PicURL); ferr == nil {
				path, err = p.saveMedia("image", "", data)
			}
		}
		if err != nil {
			p.Logger.Warn("image download failed", zap.Error(err))
			return "[用户发送了一张图片，但下载失败]\n\n请告诉用户图片处理暂时不可用。", ""
		}
		return "[用户发送了一张图片]", path

	case "voice":
		path, err := p.downloadToStateDir(ctx, cred, env.MediaID, "voice", ".amr")
		if err != nil {
			p.Logger.Warn("voice download failed", zap.Error(err))
			return "[用户发送了一条语音消息，但下载失败]", ""
		}
		if env.Recognition != "" {
			return "[语音消息] " + env.Recognition, path
		}
		return fmt.Sprintf("[用户发送了一条语音，已保存到：%s]\n\n暂时无法阅读具体语音内容。", path), path

	case "video":
		path, err := p.downloadToStateDir(ctx, cred, env.MediaID, "video", ".mp4")
		if err != nil {
			p.Logger.Warn("video download failed", zap.Error(err))
			return "[用户发送了一个视频，但下载失败]\n\n请告诉用户视频处理暂时不可用。", ""
		}
		return fmt.Sprintf("[用户发送了一个视频，已保存到：%s]\n\n请告知用户已收到视频。", path), path

	case "file":
		data, _, err := p.Client.DownloadMedia(ctx, cred, env.MediaID)
		if err != nil {
			p.Logger.Warn("file download failed", zap.Error(err))
			name := ""
			if env.FileName != "" {
				name = "：" + env.FileName
			}
			return fmt.Sprintf("[用户发送了一个文件%s，但下载失败]\n\n请告诉用户文件处理暂时不可用。", name), ""
		}
		fileName := env.FileName
		if fileName == "" {
			fileName = "file-" + uuid.NewString()[:8]
		}
		path, err := p.saveMedia("file", fileName, data)
		if err != nil {
			p.Logger.Warn("file save failed", zap.Error(err))
			return fmt.Sprintf("[用户发送了文件：%s，但保存失败]", fileName), ""
		}
		if isTextFile(fileName) {
			preview := string(data)
			if len(preview) > filePreviewLimit {
				preview = preview[:filePreviewLimit] + fmt.Sprintf("\n\n...（内容已截断，完整文件：%s）", path)
			}
			return fmt.Sprintf("[用户发送了文件：%s，已保存到：%s]\n\n文件内容如下：\n%s", fileName, path, preview), path
		}
		return fmt.Sprintf("[用户发送了文件：%s，大小：%d 字节，已保存到：%s]", fileName, len(data), path), path

	case "location":
		label := env.Label
		if label == "" {
			label = "(未知位置)"
		}
		return fmt.Sprintf("[用户发送了一个位置]\n位置名称：%s\n坐标：纬度 %g，经度 %g\n\n请根据用户分享的位置信息回复用户。",
			label, env.LocationX, env.LocationY), ""

	case "link":
		return fmt.Sprintf("[用户分享了一个链接]\n标题：%s\n描述：%s\n链接：%s\n\n请根据链接内容回复用户。",
			orDefault(env.Title, "(无标题)"), orDefault(env.Description, "(无描述)"), orDefault(env.URL, "(无链接)")), ""
	}

	return "", ""
}

func (p *Processor) downloadToStateDir(ctx context.Context, cred wecom.Credentials, mediaID, kind, ext string) (string, error) {
	if mediaID == "" {
		return "", fmt.Errorf("empty media id")
	}
	data, contentType, err := p.Client.DownloadMedia(ctx, cred, mediaID)
	if err != nil {
		return "", err
	}
	if ext == "" {
		switch {
		case strings.Contains(contentType, "png"):
			ext = ".png"
		case strings.Contains(contentType, "gif"):
			ext = ".gif"
		default:
			ext = ".jpg"
		}
	}
	return p.saveMedia(kind, kind+"-"+uuid.NewString()[:8]+ext, data)
}

func (p *Processor) saveMedia(kind, fileName string, data []byte) (string, error) {
	if fileName == "" {
		fileName = kind + "-" + uuid.NewString()[:8]
	}
	dir := filepath.Join(p.StateDir, "media", "wecom")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sendApology notifies the user the message could not be processed. Failure
// to deliver the apology is only logged; there is nothing further to degrade
// to.
func (p *Processor) sendApology(ctx context.Context, cred wecom.Credentials, toUser string, cause error) {
	text := fmt.Sprintf("抱歉，处理您的消息时出现错误，请稍后重试。\n错误：%s", truncate(cause.Error(), 100))
	if err := p.Client.SendText(ctx, cred, toUser, text); err != nil {
		p.Logger.Error("failed to send error notice",
			zap.String("to", toUser), zap.Error(err), zap.NamedError("cause", cause))
	}
}

func isTextFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range textFileExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package wecom

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/config"
	"github.com/datalingua-dev/openclaw-wechat/internal/ratelimit"
)

const defaultBaseURL = "https://qyapi.weixin.qq.com"

// pause between chunks of one logical message, to stay under send limits
const chunkPause = 300 * time.Millisecond

// Credentials identifies one WeCom application for outbound calls.
type Credentials struct {
	CorpID     string
	CorpSecret string
	AgentID    int64
}

// APIError is a non-zero errcode from a WeCom endpoint.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom: %s failed: errcode=%d errmsg=%q", e.Endpoint, e.Code, e.Msg)
}

type apiStatus struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type tokenResponse struct {
	apiStatus
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type uploadResponse struct {
	apiStatus
	MediaID string `json:"media_id"`
}

type textPayload struct {
	Content string `json:"content"`
}

type mediaPayload struct {
	MediaID string `json:"media_id"`
}

type videoPayload struct {
	MediaID     string `json:"media_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type textCardPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	BtnTxt      string `json:"btntxt,omitempty"`
}

// Article is one entry of a news message; at most 8 are sent.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PicURL      string `json:"picurl,omitempty"`
}

type newsPayload struct {
	Articles []Article `json:"articles"`
}

type sendRequest struct {
	ToUser  string `json:"touser"`
	MsgType string `json:"msgtype"`
	AgentID int64  `json:"agentid"`
	Safe    int    `json:"safe"`

	Text     *textPayload     `json:"text,omitempty"`
	Image    *mediaPayload    `json:"image,omitempty"`
	Video    *videoPayload    `json:"video,omitempty"`
	File     *mediaPayload    `json:"file,omitempty"`
	Voice    *mediaPayload    `json:"voice,omitempty"`
	TextCard *textCardPayload `json:"textcard,omitempty"`
	News     *newsPayload     `json:"news,omitempty"`
	Markdown *textPayload     `json:"markdown,omitempty"`
}

// Client talks to the WeCom HTTPS API. Message sends and token issuance go
// through the shared API limiter; tokens come from the per-credential cache.
type Client struct {
	BaseURL string

	http          *resty.Client
	tokens        *TokenCache
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	textByteLimit int
}

func NewClient(cfg config.WecomConfig, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	httpClient := resty.New()
	proxy := cfg.Proxy
	if proxy == "" {
		proxy = os.Getenv("HTTPS_PROXY")
	}
	if proxy != "" {
		httpClient.SetProxy(proxy)
	}

	c := &Client{
		BaseURL:       defaultBaseURL,
		http:          httpClient,
		limiter:       limiter,
		logger:        logger,
		textByteLimit: cfg.TextByteLimit,
	}
	if c.textByteLimit <= 0 {
		c.textByteLimit = DefaultTextByteLimit
	}
	c.tokens = NewTokenCache(c.fetchToken)
	return c
}

func (c *Client) fetchToken(ctx context.Context, corpID, corpSecret string) (string, int, error) {
	var result tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("corpid", corpID).
		SetQueryParam("corpsecret", corpSecret).
		SetResult(&result).
		Get(c.BaseURL + "/cgi-bin/gettoken")
	if err != nil {
		return "", 0, fmt.Errorf("wecom: gettoken: %w", err)
	}
	if resp.IsError() {
		return "", 0, fmt.Errorf("wecom: gettoken: http status %d", resp.StatusCode())
	}
	if result.AccessToken == "" {
		return "", 0, &APIError{Endpoint: "gettoken", Code: result.ErrCode, Msg: result.ErrMsg}
	}
	return result.AccessToken, result.ExpiresIn, nil
}

// send posts one message/send request under the API limiter.
func (c *Client) send(ctx context.Context, cred Credentials, req *sendRequest) error {
	return c.limiter.Do(func() error {
		token, err := c.tokens.Token(ctx, cred.CorpID, cred.CorpSecret)
		if err != nil {
			return err
		}

		var result apiStatus
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("access_token", token).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			SetResult(&result).
			Post(c.BaseURL + "/cgi-bin/message/send")
		if err != nil {
			return fmt.Errorf("wecom: message/send: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("wecom: message/send: http status %d", resp.StatusCode())
		}
		if result.ErrCode != 0 {
			return &APIError{Endpoint: "message/send", Code: result.ErrCode, Msg: result.ErrMsg}
		}
		return nil
	})
}

// SendText sends a text message, splitting it into byte-limited chunks.
func (c *Client) SendText(ctx context.Context, cred Credentials, toUser, text string) error {
	chunks := SplitText(text, c.textByteLimit)
	if len(chunks) > 1 {
		c.logger.Info("splitting message into chunks",
			zap.Int("chunks", len(chunks)), zap.Int("total_bytes", len(text)))
	}
	for i, chunk := range chunks {
		req := &sendRequest{
			ToUser:  toUser,
			MsgType: "text",
			AgentID: cred.AgentID,
			Text:    &textPayload{Content: chunk},
		}
		if err := c.send(ctx, cred, req); err != nil {
			return err
		}
		if i < len(chunks)-1 {
			time.Sleep(chunkPause)
		}
	}
	return nil
}

func (c *Client) SendImage(ctx context.Context, cred Credentials, toUser, mediaID string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "image", AgentID: cred.AgentID,
		Image: &mediaPayload{MediaID: mediaID},
	})
}

func (c *Client) SendVideo(ctx context.Context, cred Credentials, toUser, mediaID, title, description string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "video", AgentID: cred.AgentID,
		Video: &videoPayload{MediaID: mediaID, Title: title, Description: description},
	})
}

func (c *Client) SendFile(ctx context.Context, cred Credentials, toUser, mediaID string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "file", AgentID: cred.AgentID,
		File: &mediaPayload{MediaID: mediaID},
	})
}

func (c *Client) SendVoice(ctx context.Context, cred Credentials, toUser, mediaID string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "voice", AgentID: cred.AgentID,
		Voice: &mediaPayload{MediaID: mediaID},
	})
}

// SendTextCard sends a clickable card. The description supports WeCom's
// gray/highlight/normal div classes.
func (c *Client) SendTextCard(ctx context.Context, cred Credentials, toUser, title, description, url, btnTxt string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "textcard", AgentID: cred.AgentID,
		TextCard: &textCardPayload{Title: title, Description: description, URL: url, BtnTxt: btnTxt},
	})
}

func (c *Client) SendNews(ctx context.Context, cred Credentials, toUser string, articles []Article) error {
	if len(articles) > 8 {
		articles = articles[:8]
	}
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "news", AgentID: cred.AgentID,
		News: &newsPayload{Articles: articles},
	})
}

// SendMarkdown is only rendered inside the WeCom client, not in personal
// WeChat via the plugin; callers wanting universal delivery should convert
// with MarkdownToText and use SendText instead.
func (c *Client) SendMarkdown(ctx context.Context, cred Credentials, toUser, content string) error {
	return c.send(ctx, cred, &sendRequest{
		ToUser: toUser, MsgType: "markdown", AgentID: cred.AgentID,
		Markdown: &textPayload{Content: content},
	})
}

// SendMedia fetches media from a local path or URL, uploads it, and sends it
// as the matching message type, with the caption following as text. Any step
// failing degrades to a plaintext notice so the user still gets something.
func (c *Client) SendMedia(ctx context.Context, cred Credentials, toUser, source, caption string) error {
	mediaType, filename := ResolveMediaType(source)

	data, _, err := c.FetchMedia(ctx, source)
	var mediaID string
	if err == nil {
		mediaID, err = c.UploadMedia(ctx, cred, mediaType, filename, data)
	}
	if err == nil {
		switch mediaType {
		case "image":
			err = c.SendImage(ctx, cred, toUser, mediaID)
		case "video":
			err = c.SendVideo(ctx, cred, toUser, mediaID, "", "")
		case "voice":
			err = c.SendVoice(ctx, cred, toUser, mediaID)
		default:
			err = c.SendFile(ctx, cred, toUser, mediaID)
		}
	}
	if err != nil {
		c.logger.Warn("media send failed, falling back to text",
			zap.String("source", source), zap.String("type", mediaType), zap.Error(err))
		notice := "[媒体文件] " + source
		if caption != "" {
			notice = caption + "\n" + notice
		}
		return c.SendText(ctx, cred, toUser, notice)
	}

	if caption != "" {
		return c.SendText(ctx, cred, toUser, caption)
	}
	return nil
}

// UploadMedia pushes a temporary media asset and returns its media_id.
// mediaType is one of image, video, voice, file.
func (c *Client) UploadMedia(ctx context.Context, cred Credentials, mediaType, filename string, data []byte) (string, error) {
	token, err := c.tokens.Token(ctx, cred.CorpID, cred.CorpSecret)
	if err != nil {
		return "", err
	}

	var result uploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetQueryParam("type", mediaType).
		SetFileReader("media", filename, bytes.NewReader(data)).
		SetResult(&result).
		Post(c.BaseURL + "/cgi-bin/media/upload")
	if err != nil {
		return "", fmt.Errorf("wecom: media/upload: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("wecom: media/upload: http status %d", resp.StatusCode())
	}
	if result.ErrCode != 0 || result.MediaID == "" {
		return "", &APIError{Endpoint: "media/upload", Code: result.ErrCode, Msg: result.ErrMsg}
	}
	return result.MediaID, nil
}

// DownloadMedia fetches an inbound media asset by media_id. The endpoint
// signals failure with a JSON body instead of an HTTP error status.
func (c *Client) DownloadMedia(ctx context.Context, cred Credentials, mediaID string) ([]byte, string, error) {
	token, err := c.tokens.Token(ctx, cred.CorpID, cred.CorpSecret)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetQueryParam("media_id", mediaID).
		Get(c.BaseURL + "/cgi-bin/media/get")
	if err != nil {
		return nil, "", fmt.Errorf("wecom: media/get: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("wecom: media/get: http status %d", resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return nil, "", fmt.Errorf("wecom: media/get failed: %s", strings.TrimSpace(string(resp.Body())))
	}
	return resp.Body(), contentType, nil
}

var extMIMETypes = map[string]string{
	"jpg": "image/jpeg", "jpeg": "image/jpeg", "png": "image/png",
	"gif": "image/gif", "webp": "image/webp", "bmp": "image/bmp",
	"mp4": "video/mp4", "mov": "video/quicktime", "avi": "video/x-msvideo",
	"amr": "audio/amr", "mp3": "audio/mpeg", "wav": "audio/wav",
	"pdf": "application/pdf", "doc": "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"md":   "text/markdown", "txt": "text/plain",
}

// FetchMedia loads outbound media from a local path ("/" or "~" prefixed) or
// an HTTP(S) URL, returning the bytes and a content type.
func (c *Client) FetchMedia(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "/") || strings.HasPrefix(source, "~") {
		path := source
		if strings.HasPrefix(path, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, "", fmt.Errorf("wecom: resolve home dir: %w", err)
			}
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("wecom: read media file: %w", err)
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		contentType := extMIMETypes[ext]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return data, contentType, nil
	}

	resp, err := c.http.R().SetContext(ctx).Get(source)
	if err != nil {
		return nil, "", fmt.Errorf("wecom: fetch media url: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("wecom: fetch media url: status %d", resp.StatusCode())
	}
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return resp.Body(), contentType, nil
}

var (
	imageExts = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp"}
	videoExts = []string{"mp4", "mov", "avi"}
	voiceExts = []string{"amr", "mp3", "wav"}
)

// ResolveMediaType maps a media path or URL to the WeCom upload type and a
// filename for the multipart form.
func ResolveMediaType(mediaURL string) (mediaType, filename string) {
	filename = mediaURL
	if i := strings.LastIndex(mediaURL, "/"); i != -1 {
		filename = mediaURL[i+1:]
	}
	if filename == "" {
		filename = "file"
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	contains := func(list []string, s string) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}
	switch {
	case contains(imageExts, ext):
		return "image", filename
	case contains(videoExts, ext):
		return "video", filename
	case contains(voiceExts, ext):
		return "voice", filename
	default:
		return "file", filename
	}
}

package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

// Adapter exposes a small operator API next to the webhook routes: a health
// probe and a direct send endpoint that pushes a message to a user through
// the same outbound pipeline the agent uses.
type Adapter struct {
	Registry *account.Registry
	Client   *wecom.Client
	Logger   *zap.Logger
}

func NewAdapter(registry *account.Registry, client *wecom.Client, logger *zap.Logger) *Adapter {
	return &Adapter{
		Registry: registry,
		Client:   client,
		Logger:   logger,
	}
}

type SendRequest struct {
	ToUser    string `json:"to_user" binding:"required"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url"`  // local path or URL; sent as media, text becomes the caption
	AccountID string `json:"account_id"` // optional, defaults to "default"
	Markdown  bool   `json:"markdown"`   // convert markdown before sending
}

type SendResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

func (a *Adapter) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/v1/send", a.handleSend)
}

func (a *Adapter) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && req.MediaURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or media_url is required"})
		return
	}

	acct, err := a.Registry.Resolve(req.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve account"})
		return
	}

	text := req.Text
	if req.Markdown {
		text = wecom.MarkdownToText(text)
	}

	cred := wecom.Credentials{CorpID: acct.CorpID, CorpSecret: acct.CorpSecret, AgentID: acct.AgentID}
	if req.MediaURL != "" {
		err = a.Client.SendMedia(c.Request.Context(), cred, req.ToUser, req.MediaURL, text)
	} else {
		err = a.Client.SendText(c.Request.Context(), cred, req.ToUser, text)
	}
	if err != nil {
		a.Logger.Error("direct send failed",
			zap.String("account", acct.AccountID), zap.String("to", req.ToUser), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, SendResponse{Account: acct.AccountID, Status: "sent"})
}

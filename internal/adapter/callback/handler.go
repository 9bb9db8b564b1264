// Package callback serves the WeCom webhook endpoints: URL ownership
// verification, health checks, and encrypted message delivery.
package callback

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

// maxRequestBodySize caps callback POST bodies at 1 MiB.
const maxRequestBodySize = 1 << 20

type Adapter struct {
	Registry  *account.Registry
	Processor *Processor
	Logger    *zap.Logger
}

func NewAdapter(registry *account.Registry, processor *Processor, logger *zap.Logger) *Adapter {
	return &Adapter{
		Registry:  registry,
		Processor: processor,
		Logger:    logger,
	}
}

// RegisterRoutes mounts one webhook route per resolvable account. Accounts
// without usable credentials are skipped with a warning so one broken entry
// does not take the whole process down.
func (a *Adapter) RegisterRoutes(r *gin.Engine) {
	accountIDs := a.Registry.ListAccountIDs()
	a.Logger.Info("discovered wecom accounts", zap.Strings("accounts", accountIDs))

	for _, accountID := range accountIDs {
		acct, err := a.Registry.Resolve(accountID)
		if err != nil {
			a.Logger.Warn("skipping account without configuration", zap.String("account", accountID))
			continue
		}
		if !acct.Enabled {
			a.Logger.Info("skipping disabled account", zap.String("account", accountID))
			continue
		}

		r.Any(acct.WebhookPath, a.callbackHandler(accountID))
		a.Logger.Info("registered wecom webhook",
			zap.String("account", accountID),
			zap.String("path", acct.WebhookPath),
			zap.Int64("agent_id", acct.AgentID))
	}
}

func (a *Adapter) callbackHandler(accountID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, err := a.Registry.Resolve(accountID)
		if err != nil {
			c.String(http.StatusInternalServerError, "wecom account not configured")
			return
		}

		switch c.Request.Method {
		case http.MethodGet:
			a.handleGet(c, acct)
		case http.MethodPost:
			a.handlePost(c, acct)
		default:
			c.Header("Allow", "GET, POST")
			c.Status(http.StatusMethodNotAllowed)
		}
	}
}

// handleGet serves the health check (no echostr) and the URL ownership
// verification handshake (echostr present).
func (a *Adapter) handleGet(c *gin.Context, acct *account.Config) {
	echostr := c.Query("echostr")

	if echostr == "" {
		if acct.HasCallbackSecrets() {
			c.String(http.StatusOK, "wecom webhook ok")
		} else {
			c.String(http.StatusInternalServerError, "wecom webhook not configured")
		}
		return
	}

	if !acct.HasCallbackSecrets() {
		c.String(http.StatusInternalServerError, "WeCom callback not configured (missing token/aesKey)")
		return
	}

	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")
	signature := c.Query("msg_signature")
	if !wecom.VerifySignature(acct.CallbackToken, timestamp, nonce, echostr, signature) {
		c.String(http.StatusUnauthorized, "Invalid signature")
		return
	}

	plainEchostr, _, err := wecom.Decrypt(acct.CallbackAESKey, echostr)
	if err != nil {
		a.Logger.Error("echostr decrypt failed", zap.String("account", acct.AccountID), zap.Error(err))
		c.String(http.StatusBadRequest, "Invalid echostr")
		return
	}
	c.String(http.StatusOK, plainEchostr)
}

// handlePost authenticates an encrypted callback and acknowledges it before
// any decryption: WeCom enforces a short response deadline, so the envelope
// is processed asynchronously after the 200.
func (a *Adapter) handlePost(c *gin.Context, acct *account.Config) {
	if !acct.HasCallbackSecrets() {
		c.String(http.StatusInternalServerError, "WeCom callback not configured (missing token/aesKey)")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.String(http.StatusRequestEntityTooLarge, "Request body too large")
		} else {
			c.String(http.StatusBadRequest, "Bad request body")
		}
		c.Abort()
		return
	}

	encrypted, err := wecom.ParseEncryptedBody(body)
	if err != nil || encrypted.Encrypt == "" {
		c.String(http.StatusBadRequest, "Missing Encrypt")
		return
	}

	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")
	signature := c.Query("msg_signature")
	if !wecom.VerifySignature(acct.CallbackToken, timestamp, nonce, encrypted.Encrypt, signature) {
		c.String(http.StatusUnauthorized, "Invalid signature")
		return
	}

	c.String(http.StatusOK, "success")

	encrypt := encrypted.Encrypt
	go func() {
		decryptedXML, _, err := wecom.Decrypt(acct.CallbackAESKey, encrypt)
		if err != nil {
			a.Logger.Error("callback decrypt failed", zap.String("account", acct.AccountID), zap.Error(err))
			return
		}
		env, err := wecom.ParseEnvelope(decryptedXML)
		if err != nil {
			a.Logger.Error("callback envelope parse failed", zap.String("account", acct.AccountID), zap.Error(err))
			return
		}
		a.Logger.Info("inbound message",
			zap.String("account", acct.AccountID),
			zap.String("from", env.FromUserName),
			zap.String("msg_type", env.MsgType),
			zap.String("chat_id", env.ChatID))

		a.Processor.Enqueue(acct, env)
	}()
}

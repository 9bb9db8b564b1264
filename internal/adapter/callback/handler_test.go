package callback

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/config"
	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/core"
	"github.com/datalingua-dev/openclaw-wechat/internal/model"
	"github.com/datalingua-dev/openclaw-wechat/internal/ratelimit"
	"github.com/datalingua-dev/openclaw-wechat/internal/session"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

const (
	testCallbackToken = "tokenABC"
	testCorpID        = "wwtest"
	waitTimeout       = 3 * time.Second
)

func testAESKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	// 43 base64 chars without the trailing "="
	return base64.RawStdEncoding.EncodeToString(key)
}

// encryptEnvelope builds the callback ciphertext: random-block|len|msg|corpID,
// PKCS#7 padded and AES-CBC encrypted with IV = key[:16].
func encryptEnvelope(t *testing.T, aesKey, msg, corpID string) string {
	t.Helper()
	key, err := wecom.DecodeAESKey(aesKey)
	require.NoError(t, err)

	buf := make([]byte, 0, 16+4+len(msg)+len(corpID))
	buf = append(buf, []byte("0123456789abcdef")...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	buf = append(buf, msg...)
	buf = append(buf, corpID...)

	pad := aes.BlockSize*2 - len(buf)%(aes.BlockSize*2)
	if pad == 0 {
		pad = aes.BlockSize * 2
	}
	buf = append(buf, bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out)
}

type captureAgent struct {
	msgs  chan *model.InternalMessage
	reply string
}

func (a *captureAgent) Name() string { return "capture" }

func (a *captureAgent) Process(ctx context.Context, msg *model.InternalMessage) (string, error) {
	a.msgs <- msg
	return a.reply, nil
}

// testStack is the full webhook pipeline against stubbed WeCom endpoints.
type testStack struct {
	router    *gin.Engine
	agent     *captureAgent
	sentTexts chan string
	aesKey    string
}

func newTestStack(t *testing.T, withSecrets bool) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	aesKey := testAESKey()
	block := map[string]any{
		"corpid":      testCorpID,
		"corpsecret":  "test-secret",
		"agentid":     "1000002",
		"webhookpath": "/wecom/callback",
	}
	if withSecrets {
		block["callbacktoken"] = testCallbackToken
		block["callbackaeskey"] = aesKey
	}
	v := viper.New()
	v.Set("wecom.accounts.default", block)
	registry := account.NewRegistryWithEnv(v, nil)

	sentTexts := make(chan string, 16)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/gettoken"):
			json.NewEncoder(w).Encode(map[string]any{"access_token": "TOK", "expires_in": 7200})
		case strings.HasSuffix(r.URL.Path, "/message/send"):
			var body struct {
				Text struct {
					Content string `json:"content"`
				} `json:"text"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			sentTexts <- body.Text.Content
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	client := wecom.NewClient(config.WecomConfig{}, ratelimit.New(5, 0), logger)
	client.BaseURL = api.URL

	ag := &captureAgent{msgs: make(chan *model.InternalMessage, 16), reply: "收到"}
	dispatcher := core.NewDispatcher(logger)
	dispatcher.RegisterAgent(ag)

	processor := NewProcessor(client, dispatcher, session.NewManager(), ratelimit.New(5, 0), t.TempDir(), logger)
	adapter := NewAdapter(registry, processor, logger)

	router := gin.New()
	adapter.RegisterRoutes(router)
	return &testStack{router: router, agent: ag, sentTexts: sentTexts, aesKey: aesKey}
}

func (s *testStack) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func signedQuery(token, payload string) string {
	timestamp, nonce := "1409659589", "263014780"
	sig := wecom.ComputeSignature(token, timestamp, nonce, payload)
	return "timestamp=" + timestamp + "&nonce=" + nonce + "&msg_signature=" + sig
}

func TestWebhook_HealthCheck(t *testing.T) {
	s := newTestStack(t, true)
	w := s.do(http.MethodGet, "/wecom/callback", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "wecom webhook ok", w.Body.String())
}

func TestWebhook_HealthCheckWithoutSecrets(t *testing.T) {
	s := newTestStack(t, false)
	w := s.do(http.MethodGet, "/wecom/callback", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhook_URLVerification(t *testing.T) {
	s := newTestStack(t, true)
	encrypted := encryptEnvelope(t, s.aesKey, "verify-echo-7611", testCorpID)

	target := "/wecom/callback?" + signedQuery(testCallbackToken, encrypted) +
		"&echostr=" + urlEncode(encrypted)
	w := s.do(http.MethodGet, target, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verify-echo-7611", w.Body.String())
}

func TestWebhook_URLVerificationRejectsBadSignature(t *testing.T) {
	s := newTestStack(t, true)
	encrypted := encryptEnvelope(t, s.aesKey, "echo", testCorpID)

	target := "/wecom/callback?" + signedQuery("wrong-token", encrypted) +
		"&echostr=" + urlEncode(encrypted)
	w := s.do(http.MethodGet, target, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid signature", w.Body.String())
}

func TestWebhook_PostMissingEncrypt(t *testing.T) {
	s := newTestStack(t, true)
	body := []byte("<xml><ToUserName><![CDATA[wwtest]]></ToUserName></xml>")
	w := s.do(http.MethodPost, "/wecom/callback", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing Encrypt", w.Body.String())
}

func TestWebhook_PostRejectsBadSignature(t *testing.T) {
	s := newTestStack(t, true)
	encrypted := encryptEnvelope(t, s.aesKey, "<xml></xml>", testCorpID)
	body := []byte("<xml><Encrypt><![CDATA[" + encrypted + "]]></Encrypt></xml>")

	w := s.do(http.MethodPost, "/wecom/callback?"+signedQuery("wrong-token", encrypted), body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid signature", w.Body.String())
}

func TestWebhook_PostRejectsOversizedBody(t *testing.T) {
	s := newTestStack(t, true)
	body := bytes.Repeat([]byte("a"), (1<<20)+1)
	w := s.do(http.MethodPost, "/wecom/callback", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhook_PostDeliversMessageAsync(t *testing.T) {
	s := newTestStack(t, true)

	inner := `<xml>` +
		`<ToUserName><![CDATA[wwtest]]></ToUserName>` +
		`<FromUserName><![CDATA[zhangsan]]></FromUserName>` +
		`<CreateTime>1409659589</CreateTime>` +
		`<MsgType><![CDATA[text]]></MsgType>` +
		`<Content><![CDATA[你好，帮我查一下]]></Content>` +
		`<MsgId>4561255354251345929</MsgId>` +
		`</xml>`
	encrypted := encryptEnvelope(t, s.aesKey, inner, testCorpID)
	body := []byte("<xml><Encrypt><![CDATA[" + encrypted + "]]></Encrypt></xml>")

	w := s.do(http.MethodPost, "/wecom/callback?"+signedQuery(testCallbackToken, encrypted), body)

	// ack first, process after
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())

	select {
	case msg := <-s.agent.msgs:
		assert.Equal(t, "wecom", msg.Platform)
		assert.Equal(t, "default", msg.AccountID)
		assert.Equal(t, "zhangsan", msg.UserID)
		assert.Equal(t, "你好，帮我查一下", msg.Text)
		assert.Equal(t, "private", msg.ChatType)
	case <-time.After(waitTimeout):
		t.Fatal("agent never received the message")
	}

	select {
	case sent := <-s.sentTexts:
		assert.Equal(t, "收到", sent)
	case <-time.After(waitTimeout):
		t.Fatal("reply was never sent")
	}
}

func TestWebhook_CommandShortCircuitsAgent(t *testing.T) {
	s := newTestStack(t, true)

	inner := `<xml>` +
		`<ToUserName><![CDATA[wwtest]]></ToUserName>` +
		`<FromUserName><![CDATA[lisi]]></FromUserName>` +
		`<CreateTime>1409659589</CreateTime>` +
		`<MsgType><![CDATA[text]]></MsgType>` +
		`<Content><![CDATA[/help]]></Content>` +
		`</xml>`
	encrypted := encryptEnvelope(t, s.aesKey, inner, testCorpID)
	body := []byte("<xml><Encrypt><![CDATA[" + encrypted + "]]></Encrypt></xml>")

	w := s.do(http.MethodPost, "/wecom/callback?"+signedQuery(testCallbackToken, encrypted), body)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case sent := <-s.sentTexts:
		assert.Contains(t, sent, "/help")
		assert.Contains(t, sent, "/clear")
	case <-time.After(waitTimeout):
		t.Fatal("help text was never sent")
	}
	// the agent never sees command traffic
	select {
	case msg := <-s.agent.msgs:
		t.Fatalf("agent unexpectedly received %q", msg.Text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	s := newTestStack(t, true)
	w := s.do(http.MethodPut, "/wecom/callback", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST", w.Header().Get("Allow"))
}

// urlEncode percent-encodes a base64 payload for use in a query string.
func urlEncode(s string) string {
	return url.QueryEscape(s)
}

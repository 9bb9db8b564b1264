// Package account resolves per-account WeCom credentials. One account is one
// corpId/agentId credential pair with its own callback secret and webhook
// path, so several applications can share one process.
package account

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// ErrAccountNotFound means no source produced a usable credential set for the
// account. Callers skip such accounts at startup rather than failing.
var ErrAccountNotFound = errors.New("account: no usable configuration")

// DefaultAccountID names the single-account configuration block.
const DefaultAccountID = "default"

// Config is one resolved credential set. Immutable once resolved; cached for
// the process lifetime, so configuration changes require a restart.
type Config struct {
	AccountID      string
	CorpID         string
	CorpSecret     string
	AgentID        int64
	CallbackToken  string
	CallbackAESKey string
	WebhookPath    string
	Enabled        bool
}

// HasCallbackSecrets reports whether the webhook can authenticate and decrypt
// callbacks for this account.
func (c *Config) HasCallbackSecrets() bool {
	return c.CallbackToken != "" && c.CallbackAESKey != ""
}

// Registry resolves accounts from, in precedence order: the structured
// wecom.accounts map, the top-level wecom block (default account only), the
// configuration-level env map, and finally the process environment. Results
// are memoized per account ID.
type Registry struct {
	v         *viper.Viper
	lookupEnv func(string) (string, bool)
	environ   func() []string

	mu    sync.Mutex
	cache map[string]*Config
}

func NewRegistry(v *viper.Viper) *Registry {
	return &Registry{
		v:         v,
		lookupEnv: os.LookupEnv,
		environ:   os.Environ,
		cache:     make(map[string]*Config),
	}
}

// NewRegistryWithEnv builds a registry with an injected environment, for
// tests that need isolation from the real process environment.
func NewRegistryWithEnv(v *viper.Viper, env map[string]string) *Registry {
	return &Registry{
		v: v,
		lookupEnv: func(key string) (string, bool) {
			val, ok := env[key]
			return val, ok
		},
		environ: func() []string {
			var out []string
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		},
		cache: make(map[string]*Config),
	}
}

// Resolve returns the account's configuration, memoizing the result.
func (r *Registry) Resolve(accountID string) (*Config, error) {
	if accountID == "" {
		accountID = DefaultAccountID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.cache[accountID]; ok {
		return cfg, nil
	}

	cfg := r.resolveUncached(accountID)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	r.cache[accountID] = cfg
	return cfg, nil
}

func (r *Registry) resolveUncached(accountID string) *Config {
	// 1. explicit multi-account block
	if cfg := r.fromBlock(accountID, "wecom.accounts."+accountID); cfg != nil {
		return cfg
	}

	// 2. single default block
	if accountID == DefaultAccountID {
		if cfg := r.fromBlock(accountID, "wecom"); cfg != nil {
			return cfg
		}
	}

	// 3+4. env map with process-environment fallback
	return r.fromEnv(accountID)
}

func (r *Registry) fromBlock(accountID, prefix string) *Config {
	get := func(field string) string { return r.v.GetString(prefix + "." + field) }

	corpID := get("corpid")
	corpSecret := get("corpsecret")
	agentID, ok := parseAgentID(get("agentid"))
	if corpID == "" || corpSecret == "" || !ok {
		return nil
	}

	webhookPath := get("webhookpath")
	if webhookPath == "" {
		webhookPath = defaultWebhookPath(accountID)
	}
	enabled := true
	if r.v.IsSet(prefix + ".enabled") {
		enabled = r.v.GetBool(prefix + ".enabled")
	}
	return &Config{
		AccountID:      accountID,
		CorpID:         corpID,
		CorpSecret:     corpSecret,
		AgentID:        agentID,
		CallbackToken:  get("callbacktoken"),
		CallbackAESKey: get("callbackaeskey"),
		WebhookPath:    webhookPath,
		Enabled:        enabled,
	}
}

func (r *Registry) fromEnv(accountID string) *Config {
	envMap := r.envVars()
	fromMap := func(name string) string { return envMap[name] }
	fromProcess := func(name string) string {
		if v, ok := r.lookupEnv(name); ok {
			return v
		}
		return ""
	}
	sources := []func(string) string{fromMap, fromProcess}

	prefix := "WECOM"
	if accountID != DefaultAccountID {
		prefix = "WECOM_" + strings.ToUpper(accountID)
	}
	// The env map is a complete tier: both the prefixed and the unprefixed
	// name are tried there before the process environment is consulted.
	field := func(suffix string) string {
		for _, source := range sources {
			if v := source(prefix + "_" + suffix); v != "" {
				return v
			}
			if v := source("WECOM_" + suffix); v != "" {
				return v
			}
		}
		return ""
	}

	corpID := field("CORP_ID")
	corpSecret := field("CORP_SECRET")
	agentID, ok := parseAgentID(field("AGENT_ID"))
	if corpID == "" || corpSecret == "" || !ok {
		return nil
	}

	webhookPath := ""
	for _, source := range sources {
		if v := source(prefix + "_WEBHOOK_PATH"); v != "" {
			webhookPath = v
			break
		}
	}
	if webhookPath == "" {
		webhookPath = defaultWebhookPath(accountID)
	}
	return &Config{
		AccountID:      accountID,
		CorpID:         corpID,
		CorpSecret:     corpSecret,
		AgentID:        agentID,
		CallbackToken:  field("CALLBACK_TOKEN"),
		CallbackAESKey: field("CALLBACK_AES_KEY"),
		WebhookPath:    webhookPath,
		Enabled:        true,
	}
}

// envVars returns the configuration-level env map keyed by upper-case name.
// Viper lower-cases map keys, so they are normalized back.
func (r *Registry) envVars() map[string]string {
	raw := r.v.GetStringMapString("env.vars")
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToUpper(k)] = v
	}
	return out
}

var accountEnvPattern = regexp.MustCompile(`^WECOM_([A-Z0-9]+)_(CORP_ID|WEBHOOK_PATH)$`)

// ListAccountIDs discovers every configured account: "default" always, plus
// the wecom.accounts keys, plus suffixes of WECOM_<ID>_CORP_ID /
// WECOM_<ID>_WEBHOOK_PATH names from the env map and process environment.
func (r *Registry) ListAccountIDs() []string {
	ids := map[string]struct{}{DefaultAccountID: {}}

	for id := range r.v.GetStringMap("wecom.accounts") {
		ids[strings.ToLower(id)] = struct{}{}
	}

	addFromName := func(name string) {
		m := accountEnvPattern.FindStringSubmatch(name)
		if m == nil {
			return
		}
		// the unprefixed forms WECOM_CORP_ID / WECOM_WEBHOOK_PATH are not accounts
		if m[1] == "CORP" || m[1] == "WEBHOOK" {
			return
		}
		ids[strings.ToLower(m[1])] = struct{}{}
	}
	for name := range r.envVars() {
		addFromName(name)
	}
	for _, kv := range r.environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			addFromName(kv[:i])
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func defaultWebhookPath(accountID string) string {
	if accountID == DefaultAccountID {
		return "/wecom/callback"
	}
	return "/wecom/" + accountID
}

func parseAgentID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return n, true
	}
	// tolerate float-formatted values from loosely typed config sources
	f, ferr := strconv.ParseFloat(raw, 64)
	if ferr != nil {
		return 0, false
	}
	return int64(f), true
}

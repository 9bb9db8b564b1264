package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/datalingua-dev/openclaw-wechat/config"
	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

// Callback diagnostic: resolves every configured account, verifies the
// crypto material, and probes a running server's webhook health endpoints.
//
//	go run ./cmd/tools [base-url]
func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	fmt.Println("🔍 Starting WeCom Callback Health Check...")
	fmt.Println("----------------------------------------")

	_, v := config.Load()
	registry := account.NewRegistry(v)

	accountIDs := registry.ListAccountIDs()
	fmt.Printf("Discovered %d account(s): %v\n\n", len(accountIDs), accountIDs)

	httpClient := &http.Client{Timeout: 10 * time.Second}

	for _, id := range accountIDs {
		acct, err := registry.Resolve(id)
		if err != nil {
			fmt.Printf("⚠️ SKIP: %-12s - no usable configuration\n", id)
			continue
		}

		fmt.Printf("[%s] agentId=%d webhook=%s\n", id, acct.AgentID, acct.WebhookPath)

		checkCrypto(acct)
		checkHealth(httpClient, baseURL, acct)
		fmt.Println()
	}

	fmt.Println("----------------------------------------")
	fmt.Println("✅ Health Check Completed.")
}

// checkCrypto validates the AES key decodes and the signature is stable.
func checkCrypto(acct *account.Config) {
	if !acct.HasCallbackSecrets() {
		fmt.Println("❌ FAIL: callback token/aesKey missing - webhook cannot authenticate")
		return
	}

	if _, err := wecom.DecodeAESKey(acct.CallbackAESKey); err != nil {
		fmt.Printf("❌ FAIL: aesKey invalid: %v\n", err)
		return
	}

	sig := wecom.ComputeSignature(acct.CallbackToken, "1700000000", "nonce", "probe")
	if len(sig) != 40 {
		fmt.Printf("❌ FAIL: signature digest unexpected: %q\n", sig)
		return
	}
	fmt.Println("✅ PASS: crypto material valid")
}

func checkHealth(client *http.Client, baseURL string, acct *account.Config) {
	url := baseURL + acct.WebhookPath
	start := time.Now()
	resp, err := client.Get(url)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("❌ FAIL: GET %s - %v\n", url, err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("✅ PASS: GET %s - %q (took %v)\n", url, string(body), duration)
	} else {
		fmt.Printf("❌ FAIL: GET %s - status %d %q\n", url, resp.StatusCode, string(body))
	}
}

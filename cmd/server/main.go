package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/config"
	"github.com/datalingua-dev/openclaw-wechat/internal/account"
	"github.com/datalingua-dev/openclaw-wechat/internal/adapter/callback"
	"github.com/datalingua-dev/openclaw-wechat/internal/adapter/rest"
	"github.com/datalingua-dev/openclaw-wechat/internal/agent"
	"github.com/datalingua-dev/openclaw-wechat/internal/core"
	"github.com/datalingua-dev/openclaw-wechat/internal/llm"
	"github.com/datalingua-dev/openclaw-wechat/internal/ratelimit"
	"github.com/datalingua-dev/openclaw-wechat/internal/session"
	"github.com/datalingua-dev/openclaw-wechat/internal/wecom"
)

func main() {
	// 1. Init Config
	cfg, v := config.Load()

	// 2. Init Logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// 3. Init Account Registry
	registry := account.NewRegistry(v)

	// 4. Init Limiters
	// API limiter paces outbound WeCom calls; the process limiter caps
	// concurrent inbound message handling.
	apiLimiter := ratelimit.New(cfg.Wecom.APIMaxConcurrent,
		time.Duration(cfg.Wecom.APIMinIntervalMs)*time.Millisecond)
	processLimiter := ratelimit.New(cfg.Wecom.ProcessMaxConcurrent, 0)

	// 5. Init WeCom Client
	client := wecom.NewClient(cfg.Wecom, apiLimiter, logger)

	// 6. Init Agent + Dispatcher
	llmProvider := llm.NewOpenAIProvider(cfg.LLM)
	sessionMgr := session.NewManager()
	chatAgent := agent.NewChatAgent(llmProvider, sessionMgr)

	dispatcher := core.NewDispatcher(logger)
	dispatcher.RegisterAgent(chatAgent)

	// 7. Init Adapters
	processor := callback.NewProcessor(client, dispatcher, sessionMgr, processLimiter, cfg.Wecom.StateDir, logger)
	callbackAdapter := callback.NewAdapter(registry, processor, logger)
	restAdapter := rest.NewAdapter(registry, client, logger)

	// 8. Mount routes and start the server
	r := gin.Default()
	callbackAdapter.RegisterRoutes(r)
	restAdapter.RegisterRoutes(r)

	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := r.Run(":" + cfg.Server.Port); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
}

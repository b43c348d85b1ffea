// Package main provides the Cloud Code relay server.
// This file corresponds to src/index.js in the Node.js version.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/format"
	"github.com/anthropics/cloudcode-relay/internal/server"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

func main() {
	var (
		debugMode    bool
		devMode      bool
		fallback     bool
		strategyName string
		port         int
		host         string
		triggerReset bool
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug mode (legacy alias for dev-mode)")
	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode")
	flag.BoolVar(&fallback, "fallback", false, "Enable model fallback on quota exhaust")
	flag.StringVar(&strategyName, "strategy", "", "Account selection strategy (sticky/round-robin/aggressive/on-demand)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.BoolVar(&triggerReset, "trigger-reset", false, "Clear all rate-limit state for every account and exit")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" || os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}
	if os.Getenv("FALLBACK") == "true" {
		fallback = true
	}
	if debugMode {
		devMode = true
	}

	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			fmt.Sscanf(envPort, "%d", &port)
		}
	}
	if port == 0 {
		port = config.DefaultPort
	}

	if host == "" {
		host = os.Getenv("HOST")
	}
	if host == "" {
		host = "0.0.0.0"
	}

	// Validate strategy, resolving deprecated aliases (e.g. "hybrid").
	if strategyName != "" {
		canonical, ok := config.NormalizeStrategy(strings.ToLower(strategyName))
		if !ok {
			utils.Warn("[Startup] Invalid strategy %q. Valid options: sticky, round-robin, aggressive, on-demand. Using default.", strategyName)
			strategyName = ""
		} else {
			if strings.ToLower(strategyName) == config.StrategyHybrid {
				utils.Warn("[Startup] Strategy %q is a deprecated alias for %q", strategyName, canonical)
			}
			strategyName = canonical
		}
	}

	utils.SetDebug(devMode)

	if err := config.ValidateFallbackMap(config.ModelFallbackMap); err != nil {
		utils.Error("[Startup] Model fallback map is invalid: %v", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Load(); err != nil {
		utils.Warn("[Startup] Failed to load config: %v", err)
	}
	cfg.DevMode = devMode
	if strategyName != "" {
		cfg.SetStrategy(strategyName)
	}
	if devMode {
		utils.Debug("Developer mode enabled")
	}
	if fallback {
		utils.Info("Model fallback mode enabled")
	}

	format.InitGlobalSignatureCache()

	tokens := account.NewCachingTokenProvider(account.StaticRefresher{}, 5*time.Minute)
	accountManager := account.NewManager(cfg, tokens)

	if triggerReset {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := accountManager.Initialize(ctx); err != nil {
			utils.Error("[trigger-reset] Failed to load account pool: %v", err)
			os.Exit(1)
		}
		accountManager.ResetAllRateLimits()
		utils.Success("[trigger-reset] Cleared rate-limit state for %d accounts", accountManager.GetAccountCount())
		return
	}

	srv := server.New(cfg, accountManager, server.Options{
		FallbackEnabled:  fallback,
		StrategyOverride: strategyName,
		Debug:            devMode,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Initialize(ctx); err != nil {
		utils.Error("[Startup] Failed to initialize server: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	srv.SetupRoutes()

	printBanner(port, host, cfg.GetStrategy(), devMode, fallback, accountManager, cfg)

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // Long timeout for AI responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[Server] Starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] Failed to start: %v", err)
			os.Exit(1)
		}
	}()

	utils.Success("Server started successfully on port %d", port)
	if devMode {
		utils.Warn("Running in DEVELOPER mode - verbose logs enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	utils.Success("Server stopped")
}

// printBanner prints the startup banner
func printBanner(port int, host, strategy string, devMode, fallback bool, am *account.Manager, cfg *config.Config) {
	fmt.Print("\033[H\033[2J")

	status := am.GetStatus()

	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".config", "cloudcode-relay")

	displayHost := host
	if host == "0.0.0.0" {
		displayHost = "localhost"
	}

	statusLines := []string{
		fmt.Sprintf("    ✓ Strategy: %s", strategy),
		fmt.Sprintf("    ✓ Accounts: %v", status["accountCount"]),
	}
	if devMode {
		statusLines = append(statusLines, "    ✓ Developer mode enabled")
	}
	if fallback {
		statusLines = append(statusLines, "    ✓ Model fallback enabled")
	}

	controlLines := []string{
		"    --strategy=<s>     Set account selection strategy",
		"                       (sticky/round-robin/aggressive/on-demand)",
		"    --trigger-reset    Clear rate-limit state and exit",
	}
	if !devMode {
		controlLines = append(controlLines, "    --dev-mode         Enable developer mode")
	}
	if !fallback {
		controlLines = append(controlLines, "    --fallback         Enable model fallback on quota exhaust")
	}
	controlLines = append(controlLines, "    Ctrl+C             Stop server")

	fmt.Println(`
╔══════════════════════════════════════════════════════════════╗
║                 Cloud Code Relay Server v` + config.Version + `                 ║
╠══════════════════════════════════════════════════════════════╣
║                                                              ║`)
	fmt.Printf("║  Server running at: http://%s:%-23d ║\n", displayHost, port)
	fmt.Printf("║  Bound to: %s:%-42d ║\n", host, port)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Active Modes:                                               ║")
	for _, line := range statusLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Control:                                                    ║")
	for _, line := range controlLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Endpoints:                                                  ║")
	fmt.Println("║    POST /v1/messages                - Anthropic Messages API ║")
	fmt.Println("║    POST /v1/messages/count_tokens   - Local token estimate   ║")
	fmt.Println("║    GET  /v1/models                  - List available models  ║")
	fmt.Println("║    GET  /health                     - Health & quota check   ║")
	fmt.Println("║    POST /refresh-token              - Force token refresh    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Configuration:                                              ║")
	fmt.Printf("║    Storage: %-50s ║\n", configDir)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Usage with Claude Code:                                     ║")
	fmt.Printf("║    export ANTHROPIC_BASE_URL=http://localhost:%-15d ║\n", port)
	fmt.Printf("║    export ANTHROPIC_API_KEY=%-33s ║\n", cfg.APIKey)
	fmt.Println("║    claude                                                    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
}

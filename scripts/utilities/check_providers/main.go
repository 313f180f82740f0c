package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sna-ai/sna/internal/config"
	"github.com/sna-ai/sna/internal/summarizer"
)

// This script sends a minimal generation request to every provider in the
// configured LLM chain and reports reachability, latency and token usage.
// Useful for verifying keys and base URLs before relying on the fallback
// order in production.

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	providers := summarizer.NewProviders(cfg.Summarizer.Providers)
	if len(providers) == 0 {
		log.Fatal("no providers configured; set LLM_PROVIDER_CHAIN and the per-provider keys")
	}

	fmt.Printf("checking %d provider(s) in chain order...\n\n", len(providers))

	req := summarizer.Request{
		Prompt:    "Reply with the single word OK.",
		MaxTokens: 5,
	}

	failures := 0
	for i, p := range providers {
		fmt.Printf("%d. %s\n", i+1, p.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		start := time.Now()
		resp, err := p.Generate(ctx, req)
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			failures++
			fmt.Printf("   FAILED after %s: %v\n\n", elapsed.Round(time.Millisecond), err)
			continue
		}
		fmt.Printf("   ok in %s\n", elapsed.Round(time.Millisecond))
		fmt.Printf("   model:  %s\n", resp.Model)
		fmt.Printf("   tokens: %d prompt + %d completion\n", resp.PromptTokens, resp.CompletionTokens)
		if resp.CostUSD > 0 {
			fmt.Printf("   cost:   $%.6f\n", resp.CostUSD)
		}
		fmt.Println()
	}

	if failures > 0 {
		fmt.Printf("%d of %d providers failed\n", failures, len(providers))
		os.Exit(1)
	}
	fmt.Println("all providers reachable")
}

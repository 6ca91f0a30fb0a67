package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/config"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
)

func main() {
	var (
		query    = flag.String("query", "", "Query to analyse (required)")
		models   = flag.String("models", "", "Comma separated model keys (default: every catalog model)")
		language = flag.String("lang", "ru", "Reply language: ru or en")
		delay    = flag.Duration("delay", harness.DefaultDelay, "Pause between models")
		asJSON   = flag.Bool("json", false, "Print the log as JSON")
		showHelp = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *showHelp || strings.TrimSpace(*query) == "" {
		fmt.Println("Test harness: runs one query against several models and prints the log")
		fmt.Println("Usage: go run ./cmd/harness -query <text> [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  go run ./cmd/harness -query \"sci-fi thrillers\"")
		fmt.Println("  go run ./cmd/harness -query \"like Heat\" -models gpt4,gemini -lang en -json")
		return
	}

	config.LoadConfig()
	cfg := config.AppConfig

	logCfg := logger.FromConfig(cfg.LogLevel, cfg.LogFormat)
	logCfg.Level = slog.LevelWarn
	lg := logger.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := llm.NewCatalog(cfg.Catalog, lg)
	if err != nil {
		log.Fatalf("Failed to build model catalog: %v", err)
	}
	providers, err := llm.NewRegistry(ctx, cfg.Catalog, lg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM providers: %v", err)
	}
	adapter := llm.NewAdapter(catalog, providers, llm.NewUsageLog(cfg.UsageLogMaxEntries), lg)
	a := analyzer.New(adapter, catalog.AnalyzerDefault().Key, lg)

	label := func(key string) string {
		if model, ok := catalog.Resolve(key); ok && model.DisplayName != "" {
			return model.DisplayName
		}
		return key
	}
	runner := harness.NewRunner(a, label, *delay, lg)

	keys := splitModels(*models)
	if len(keys) == 0 {
		for _, model := range catalog.Models() {
			keys = append(keys, model.Key)
		}
	}

	testLog := harness.NewLog()
	events, cancel := testLog.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, testLog, harness.Job{
			Query:    *query,
			Language: locale.Parse(*language),
			Models:   keys,
		})
	}()

	fmt.Printf("Running %q against %d model(s)...\n\n", *query, len(keys))

	show := func(event harness.Event) {
		if !*asJSON && event.Entry != nil && event.Entry.Status != harness.StatusPending {
			printEntry(*event.Entry)
		}
	}

wait:
	for {
		select {
		case event := <-events:
			show(event)
		case <-done:
			break wait
		}
	}
	for drained := false; !drained; {
		select {
		case event := <-events:
			show(event)
		default:
			drained = true
		}
	}

	if *asJSON {
		data, err := json.MarshalIndent(testLog.Entries(), "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode log: %v", err)
		}
		fmt.Println(string(data))
	}

	var failed int
	for _, entry := range testLog.Entries() {
		if entry.Status == harness.StatusError {
			failed++
		}
	}
	if ctx.Err() != nil {
		fmt.Println("Interrupted.")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func printEntry(entry harness.Entry) {
	fmt.Printf("%s  [%s] %s\n", entry.Timestamp.Format(time.TimeOnly), entry.Status, entry.ModelLabel)
	fmt.Printf("      duration: %dms\n", entry.DurationMs)
	if entry.Usage != nil {
		fmt.Printf("      tokens: %d in / %d out, cost $%.6f\n", entry.Usage.InputTokens, entry.Usage.OutputTokens, entry.Usage.CostEstimate)
	}
	if entry.Error != "" {
		fmt.Printf("      error: %s\n", entry.Error)
	}
	if entry.Result != nil {
		fmt.Printf("      type: %s, media: %s\n", entry.Result.QueryType, entry.Result.MediaType)
		if len(entry.Result.RecommendedTitles) > 0 {
			fmt.Printf("      titles: %s\n", strings.Join(entry.Result.RecommendedTitles, ", "))
		}
		if entry.Result.ReplyText != "" {
			fmt.Printf("      reply: %s\n", entry.Result.ReplyText)
		}
	}
	fmt.Println()
}

func splitModels(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

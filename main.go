package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fabfab/sitechat/api"
	"github.com/fabfab/sitechat/config"
	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/database"
	"github.com/fabfab/sitechat/embeddings"
	"github.com/fabfab/sitechat/images"
	"github.com/fabfab/sitechat/index"
	"github.com/fabfab/sitechat/llm"
	"github.com/fabfab/sitechat/store"
)

func main() {
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(logger, os.Args[2:])
	case "index":
		indexCmd(logger, os.Args[2:])
	case "chat":
		chatCmd(logger, os.Args[2:])
	default:
		logger.Error("unknown command", zap.String("command", os.Args[1]))
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config file")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse serve flags", zap.Error(err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection", zap.Error(err))
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool, cfg.OpenAI.EmbeddingDimension); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	aggregator := buildAggregator(cfg, logger)
	cache := content.NewCache(aggregator, time.Duration(cfg.Context.CacheTTLSeconds)*time.Second, logger)

	if cfg.Sources.LocalDir != "" {
		watcher, err := content.NewWatcher(cfg.Sources.LocalDir, cache, logger)
		if err != nil {
			logger.Warn("local source watcher disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	var provider api.ContextProvider
	switch cfg.Context.Strategy {
	case config.StrategySemantic:
		embedder, err := buildEmbedder(cfg)
		if err != nil {
			logger.Fatal("embedder setup", zap.Error(err))
		}
		idx := index.NewPostgresIndex(pool, embedder, logger)
		provider = api.NewSemanticContext(idx, aggregator, cfg.Context.TopK, cfg.Context.MaxTokens)
	default:
		provider = api.NewFullContext(cache, cfg.Context.MaxTokens)
	}

	imageStore := images.NewStore(pool, filepath.Join(cfg.DataDir, "images"), "/api/v1/images", logger)
	go imageStore.RunSweeper(ctx, time.Hour)

	server := api.NewServer(api.Options{
		Store:   store.NewConversationStore(pool),
		Images:  imageStore,
		Chat:    buildChatClient(cfg, logger),
		Context: provider,
		Logger:  logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("strategy", cfg.Context.Strategy))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func indexCmd(logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config file")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse index flags", zap.Error(err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection", zap.Error(err))
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool, cfg.OpenAI.EmbeddingDimension); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		logger.Fatal("embedder setup", zap.Error(err))
	}

	aggregator := buildAggregator(cfg, logger)
	pages, okSources := aggregator.FetchAll(ctx)
	if len(pages) == 0 {
		logger.Fatal("no pages retrieved from any content source")
	}

	idx := index.NewPostgresIndex(pool, embedder, logger)
	if err := idx.Rebuild(ctx, pages); err != nil {
		logger.Fatal("rebuild index", zap.Error(err))
	}

	logger.Info("index built",
		zap.Int("pages", len(pages)),
		zap.Int("sources", okSources))
}

func chatCmd(logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config file")
	question := flags.String("question", "", "question to ask about the site")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse chat flags", zap.Error(err))
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatal("read question", zap.Error(err))
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	aggregator := buildAggregator(cfg, logger)
	siteContext, err := oneShotContext(ctx, cfg, aggregator, *question, logger)
	if err != nil {
		logger.Fatal("build site context", zap.Error(err))
	}

	client := buildChatClient(cfg, logger)
	history := []llm.Message{{Role: llm.RoleUser, Content: *question}}
	reply, err := client.SendMessage(ctx, history, "", siteContext)
	if err != nil {
		logger.Fatal("chat failed", zap.Error(err))
	}

	fmt.Println(reply.Content)
	if reply.Usage.TotalTokens > 0 {
		fmt.Printf("\n[%s, %d tokens]\n", reply.Model, reply.Usage.TotalTokens)
	}
}

// oneShotContext builds the context for a single terminal question. The
// semantic strategy ranks freshly fetched pages in memory instead of touching
// the persistent index.
func oneShotContext(ctx context.Context, cfg *config.Config, aggregator *content.Aggregator, question string, logger *zap.Logger) (string, error) {
	if cfg.Context.Strategy == config.StrategySemantic {
		embedder, err := buildEmbedder(cfg)
		if err != nil {
			return "", err
		}

		pages, _ := aggregator.FetchAll(ctx)
		if len(pages) == 0 {
			return "", fmt.Errorf("no pages retrieved from any content source")
		}

		idx := index.NewMemoryIndex(embedder, logger)
		if err := idx.Rebuild(ctx, pages); err != nil {
			return "", err
		}

		hits, err := idx.Search(ctx, question, cfg.Context.TopK)
		if err != nil {
			return "", err
		}
		return content.Truncate(index.FormatHits(hits), cfg.Context.MaxTokens), nil
	}

	cache := content.NewCache(aggregator, 0, logger)
	blob, err := cache.GetOrRefresh(ctx)
	if err != nil {
		return "", err
	}
	return content.Truncate(blob, cfg.Context.MaxTokens), nil
}

func buildAggregator(cfg *config.Config, logger *zap.Logger) *content.Aggregator {
	var sources []content.Source
	for i, baseURL := range cfg.Sources.WordPress {
		sources = append(sources, content.NewWordPressSource(baseURL, i+1, logger))
	}
	if cfg.Sources.LocalDir != "" {
		sources = append(sources, content.NewLocalSource(cfg.Sources.LocalDir, len(sources)+1, logger))
	}

	site := content.SiteMeta{
		Name:    cfg.Site.Name,
		Tagline: cfg.Site.Tagline,
		URL:     cfg.Site.URL,
	}
	return content.NewAggregator(sources, site, logger)
}

func buildEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	return embeddings.NewOpenAIEmbedder(embeddings.Options{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.EmbeddingModel,
		Dimension:         cfg.OpenAI.EmbeddingDimension,
		RequestsPerSecond: cfg.OpenAI.EmbeddingRPS,
	})
}

func buildChatClient(cfg *config.Config, logger *zap.Logger) *llm.Client {
	return llm.NewClient(llm.Options{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.ChatModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Prompt: llm.PromptConfig{
			SiteName:           cfg.Site.Name,
			Language:           cfg.Site.Language,
			CustomInstructions: cfg.Site.CustomInstructions,
		},
		Logger: logger,
	})
}

func printUsage() {
	fmt.Println("Usage: sitechat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API (use --config to point at a YAML file)")
	fmt.Println("  index    Fetch site content and rebuild the semantic page index")
	fmt.Println("  chat     Ask a one-shot question about the site from the terminal")
}

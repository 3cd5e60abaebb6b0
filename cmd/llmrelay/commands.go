package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrelay/config"
	rediscache "github.com/BaSui01/llmrelay/internal/cache"
	"github.com/BaSui01/llmrelay/internal/database"
	"github.com/BaSui01/llmrelay/llm/cache"
	"github.com/BaSui01/llmrelay/llm/pipeline"
	"github.com/BaSui01/llmrelay/llm/router"
)

// criteriaFlags resolve 与 send 共用的选择条件参数
type criteriaFlags struct {
	model             string
	requireTags       string
	preferTags        string
	include           string
	exclude           string
	cheapest          bool
	performance       bool
	maxCostPerMillion float64
	maxRequestCost    float64
	promptTokens      int
	completionTokens  int
}

func (c *criteriaFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.model, "model", "", "Model id")
	fs.StringVar(&c.requireTags, "require-tags", "", "Comma separated tags every candidate must have")
	fs.StringVar(&c.preferTags, "prefer-tags", "", "Comma separated preferred tags")
	fs.StringVar(&c.include, "include", "", "Comma separated providers to keep")
	fs.StringVar(&c.exclude, "exclude", "", "Comma separated providers to drop")
	fs.BoolVar(&c.cheapest, "cheapest", false, "Order candidates by estimated cost")
	fs.BoolVar(&c.performance, "performance", false, "Break priority ties by reliability tier")
	fs.Float64Var(&c.maxCostPerMillion, "max-cost-per-million", 0, "Upper bound on prompt+completion price per million tokens")
	fs.Float64Var(&c.maxRequestCost, "max-request-cost", 0, "Upper bound on estimated request cost")
	fs.IntVar(&c.promptTokens, "prompt-tokens", 0, "Prompt tokens used for cost estimates")
	fs.IntVar(&c.completionTokens, "completion-tokens", 0, "Completion tokens used for cost estimates")
}

func (c *criteriaFlags) criteria() *router.Criteria {
	return &router.Criteria{
		RequiredTags:         splitList(c.requireTags),
		PreferredTags:        splitList(c.preferTags),
		PreferLowerCost:      c.cheapest,
		PreferPerformance:    c.performance,
		IncludeOnlyProviders: splitList(c.include),
		ExcludeProviders:     splitList(c.exclude),
		MaxCostPerMillion:    c.maxCostPerMillion,
		MaxRequestCost:       c.maxRequestCost,
		PromptTokens:         c.promptTokens,
		CompletionTokens:     c.completionTokens,
	}
}

// splitList 解析逗号分隔列表，忽略空项
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// 🧭 resolve 命令
// =============================================================================

func runResolve(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	var cf criteriaFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cf.model == "" {
		return fmt.Errorf("--model is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	criteria := cf.criteria()
	resolutions, err := router.NewResolver(logger).ResolveByID(cfg.AppConfig(), cf.model, criteria)
	if err != nil {
		return err
	}
	printResolutions(stdout, resolutions, criteria)
	return nil
}

// printResolutions 以表格输出候选及估算成本
func printResolutions(w io.Writer, resolutions []router.Resolution, criteria *router.Criteria) {
	prompt, completion := router.DefaultPromptTokens, router.DefaultCompletionTokens
	if criteria != nil && criteria.PromptTokens > 0 {
		prompt = criteria.PromptTokens
	}
	if criteria != nil && criteria.CompletionTokens > 0 {
		completion = criteria.CompletionTokens
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCANDIDATE\tMODEL\tPRIORITY\tEST. COST (USD)")
	for i := range resolutions {
		res := &resolutions[i]
		priority := res.Provider.Priority
		if res.SubProvider != nil {
			priority = res.SubProvider.Priority
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.6f\n",
			i+1, res.String(), res.EffectiveModelName(), priority, res.EstimatedCost(prompt, completion))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nCosts assume %d prompt and %d completion tokens.\n", prompt, completion)
}

// =============================================================================
// 📤 send 命令
// =============================================================================

func runSend(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	path := fs.String("path", "/v1/messages", "Request path appended to the provider base URL")
	bodyPath := fs.String("body", "-", `Request body file, "-" for stdin`)
	keepModel := fs.Bool("keep-model", false, `Do not rewrite the "model" field per candidate`)
	var cf criteriaFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cf.model == "" {
		return fmt.Errorf("--model is required")
	}

	body, err := readBody(*bodyPath, stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	criteria := cf.criteria()
	if criteria.PromptTokens == 0 {
		criteria.PromptTokens = router.EstimateTokens(cf.model, string(body))
	}

	bodyFn := pipeline.WithModel(body)
	if *keepModel {
		bodyFn = pipeline.StaticBody(body)
	}

	start := time.Now()
	resp, res, err := p.Do(ctx, pipeline.Request{
		ModelID:  cf.model,
		Criteria: criteria,
		Build:    pipeline.JSONBuilder(*path, bodyFn),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(stdout, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	completion := criteria.CompletionTokens
	if completion == 0 {
		completion = router.DefaultCompletionTokens
	}
	cost := res.EstimatedCost(criteria.PromptTokens, completion)
	if cf.promptTokens == 0 {
		// 按实际命中的模型名重新计数 prompt
		cost = router.EstimateRequestCost(res.EffectiveModelName(), string(body), completion, res.EffectivePricing())
	}
	logger.Info("request served",
		zap.String("candidate", res.String()),
		zap.String("model", res.EffectiveModelName()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.Float64("estimated_cost", cost))
	return nil
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read body from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// =============================================================================
// 💾 cache 命令
// =============================================================================

func runCache(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("cache subcommand required: keys, prune, stats")
	}
	sub := args[0]

	fs := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	ctx := context.Background()
	// 维护命令打开存储时不做启动清理
	cfg.Cache.CleanupOnStartup = false
	store, closer, err := pipeline.NewStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	return cacheCommand(ctx, sub, cfg, store, closer, stdout)
}

func cacheCommand(ctx context.Context, sub string, cfg *config.Config, store cache.Store, backend io.Closer, w io.Writer) error {
	switch sub {
	case "keys":
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
		return nil

	case "prune":
		p, ok := store.(cache.Pruner)
		if !ok {
			return fmt.Errorf("cache backend %s does not support pruning", cfg.Cache.Backend)
		}
		n, err := p.Prune(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed %d expired entries\n", n)
		return nil

	case "stats":
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Backend: %s\n", cfg.Cache.Backend)
		fmt.Fprintf(w, "Entries: %d\n", len(keys))

		switch b := backend.(type) {
		case *rediscache.Manager:
			st, err := b.GetStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Redis keyspace hits/misses: %d/%d\n", st.Hits, st.Misses)
			fmt.Fprintf(w, "Redis memory: %d bytes (max %d)\n", st.UsedMemory, st.MaxMemory)
			fmt.Fprintf(w, "Redis clients: %d\n", st.Connections)
		case *database.PoolManager:
			st := b.GetStats()
			fmt.Fprintf(w, "DB connections: %d open, %d in use, %d idle\n", st.OpenConnections, st.InUse, st.Idle)
		}
		return nil

	default:
		return fmt.Errorf("unknown cache subcommand: %s (keys, prune, stats)", sub)
	}
}

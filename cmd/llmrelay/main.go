// =============================================================================
// LLMRelay 命令行入口
// =============================================================================
// 使用方法:
//
//	llmrelay resolve --config config.yaml --model claude-3-5-sonnet --cheapest
//	llmrelay send --config config.yaml --model claude-3-5-sonnet --body req.json
//	llmrelay cache keys --config config.yaml
//	llmrelay cache prune --config config.yaml
//	llmrelay cache stats --config config.yaml
//	llmrelay version
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrelay/config"
	"github.com/BaSui01/llmrelay/internal/logging"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "resolve":
		return runResolve(args[1:], stdout)
	case "send":
		return runSend(args[1:], stdin, stdout)
	case "cache":
		return runCache(args[1:], stdout)
	case "version":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// loadConfig 加载并校验配置；path 为空时只使用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger 初始化日志，失败时回退到生产配置
func newLogger(cfg config.LogConfig) *zap.Logger {
	logger, err := logging.New(cfg)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "LLMRelay %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `LLMRelay - LLM request pipeline with failover, retry and response caching

Usage:
  llmrelay <command> [options]

Commands:
  resolve   Show ordered failover candidates for a model
  send      Send a JSON request through the pipeline, write the response to stdout
  cache     Response cache maintenance (keys, prune, stats)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'resolve':
  --model <id>                Model id (required)
  --require-tags a,b          Tags every candidate must have
  --prefer-tags a,b           Tags that break priority ties
  --include a,b               Only these providers
  --exclude a,b               Exclude these providers or sub-providers
  --cheapest                  Order by estimated cost
  --performance               Break priority ties by reliability tier
  --max-cost-per-million <n>  Upper bound on prompt+completion price
  --max-request-cost <n>      Upper bound on estimated request cost
  --prompt-tokens <n>         Prompt tokens used for cost estimates
  --completion-tokens <n>     Completion tokens used for cost estimates

Options for 'send' (plus all 'resolve' filters):
  --path <path>       Request path appended to the provider base URL (default /v1/messages)
  --body <file>       Request body file, "-" for stdin (default "-")
  --keep-model        Do not rewrite the "model" field per candidate

Examples:
  llmrelay resolve --config config.yaml --model gpt-4o-mini --cheapest
  llmrelay send --config config.yaml --model claude-3-5-sonnet --body request.json
  llmrelay cache prune --config config.yaml
  llmrelay version`)
}

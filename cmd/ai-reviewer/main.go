package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/TurboKach/ai-reviewer/internal/ai"
	"github.com/TurboKach/ai-reviewer/internal/ai/langchain"
	"github.com/TurboKach/ai-reviewer/internal/config"
	"github.com/TurboKach/ai-reviewer/internal/logging"
	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/internal/providers/github"
	"github.com/TurboKach/ai-reviewer/internal/providers/gitlab"
	"github.com/TurboKach/ai-reviewer/internal/review"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

func main() {
	app := &cli.App{
		Name:  "ai-reviewer",
		Usage: "AI-assisted pull request reviews",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
				EnvVars: []string{"AIREVIEWER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level: trace, debug, info, warn, error",
				EnvVars: []string{"AIREVIEWER_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "pretty",
				Usage:   "human-readable log output",
				EnvVars: []string{"AIREVIEWER_PRETTY"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "review",
				Usage:     "review a pull request",
				ArgsUsage: "<pull-request-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "ai",
						Usage:   "AI backend override: openai, anthropic, googleai",
						EnvVars: []string{"AIREVIEWER_AI"},
					},
					&cli.StringFlag{
						Name:    "model",
						Usage:   "model name override",
						EnvVars: []string{"AIREVIEWER_MODEL"},
					},
				},
				Action: runReview,
			},
			{
				Name:  "init",
				Usage: "write a sample configuration file",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = "./aireviewer.toml"
					}
					if err := config.InitConfig(path); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("wrote sample configuration to %s\n", path)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runReview(c *cli.Context) error {
	prURL := c.Args().First()
	if prURL == "" {
		return cli.Exit("usage: ai-reviewer review <pull-request-url>", 2)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if v := c.String("ai"); v != "" {
		cfg.General.AI = v
	}
	if v := c.String("model"); v != "" {
		if cfg.AI[cfg.General.AI] == nil {
			cfg.AI[cfg.General.AI] = make(map[string]interface{})
		}
		cfg.AI[cfg.General.AI]["model_name"] = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.General.LogLevel = v
	}
	if c.Bool("pretty") {
		cfg.General.Pretty = true
	}

	logging.Setup(cfg.General.LogLevel, cfg.General.Pretty)

	// The provider actually used is derived from the PR URL, so validate
	// against that instead of the configured default.
	if name, _, err := providers.ParsePullRequestURL(prURL); err == nil {
		cfg.General.Provider = name
	}
	if err := cfg.Validate(); err != nil {
		var fatal *config.FatalError
		if errors.As(err, &fatal) {
			return cli.Exit(fatal.Error(), 2)
		}
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service := review.NewService(buildProviderFactory(), buildAIFactory(), cfg)

	result := service.Run(ctx, prURL)
	if result.State == models.StateFailed {
		return cli.Exit(fmt.Sprintf("review run %s failed: %v", result.RunID, result.Err), 1)
	}

	fmt.Printf("review run %s done in %s: %d suggestion(s), %d skipped file(s), %d failed post(s)\n",
		result.RunID, result.Duration.Round(time.Millisecond),
		result.Summary.SuggestionCount, len(result.Summary.SkippedFiles), result.Summary.FailedPosts)
	return nil
}

func buildProviderFactory() providers.Factory {
	factory := providers.NewStandardFactory()
	factory.Register("github", github.New("", log.Logger))

	gl, err := gitlab.New(gitlab.Config{}, log.Logger)
	if err == nil {
		factory.Register("gitlab", gl)
	}
	return factory
}

func buildAIFactory() ai.Factory {
	factory := ai.NewDefaultFactory()
	for _, backend := range []string{"openai", "anthropic", "googleai"} {
		factory.Register(backend, langchain.New(langchain.Config{Backend: backend}, log.Logger))
	}
	return factory
}

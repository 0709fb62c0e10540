package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lunad/internal/session"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		modelPath    string
		threads      int
		contextSize  int
		systemPrompt string
		maxTokens    int
		logLevel     string
	)
	root := &cobra.Command{
		Use:           "lunachat",
		Short:         "Interactive terminal chat against a local GGUF model",
		Example:       "  lunachat --model ~/models/llm/luna-hermes.gguf",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				return fmt.Errorf("--model is required")
			}
			lvl, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				lvl = zerolog.WarnLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(lvl).With().Timestamp().Logger()
			session.SetLogger(logger)
			return runChat(cmd.Context(), chatConfig{
				modelPath:    modelPath,
				threads:      threads,
				contextSize:  contextSize,
				systemPrompt: systemPrompt,
				maxTokens:    maxTokens,
			})
		},
	}
	root.Flags().StringVarP(&modelPath, "model", "m", os.Getenv("LUNACHAT_MODEL"), "Path to a .gguf model file (defaults LUNACHAT_MODEL)")
	root.Flags().IntVar(&threads, "threads", 0, "Engine CPU threads (0 = default)")
	root.Flags().IntVar(&contextSize, "context-size", 0, "Context window in tokens (0 = default)")
	root.Flags().StringVar(&systemPrompt, "system-prompt", "", "Override the default system prompt")
	root.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max new tokens per reply (0 = engine default)")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	return root
}

type chatConfig struct {
	modelPath    string
	threads      int
	contextSize  int
	systemPrompt string
	maxTokens    int
}

func runChat(ctx context.Context, cfg chatConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []session.Option{
		session.WithThreads(cfg.threads),
		session.WithContextSize(cfg.contextSize),
		session.WithMaxTokens(cfg.maxTokens),
	}
	if cfg.systemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(cfg.systemPrompt))
	}

	fmt.Println("loading model...")
	sess, err := session.Open(ctx, cfg.modelPath, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Println("ready. type a message, or quit/exit to leave.")

	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		res, err := sess.Generate(ctx, line, func(piece string) error {
			if _, err := out.WriteString(piece); err != nil {
				return err
			}
			return out.Flush()
		})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			return err
		}
		fmt.Printf("\n[input: %d tokens, response: %d tokens, total: %d]\n",
			res.InputTokens, res.ResponseTokens, res.InputTokens+res.ResponseTokens)
	}
}

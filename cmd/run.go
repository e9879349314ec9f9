package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gotock/pkg/bot"
	"gotock/pkg/config"
	"gotock/pkg/connector"
	"gotock/pkg/logger"
	"gotock/pkg/tock"
	"gotock/pkg/user"

	"github.com/spf13/cobra"
)

// demoUserData is the per-user record the demo stories thread through the
// store.
type demoUserData struct {
	Greetings int `json:"greetings"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo bot against the configured platform",
	Long:  "Connects to the configured platform endpoint and serves a greeting story on the web connector.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.run")

		opts := []bot.Option[demoUserData]{
			bot.WithReconnectBackoff[demoUserData](
				time.Duration(cfg.Reconnect.InitialIntervalMS)*time.Millisecond,
				time.Duration(cfg.Reconnect.MaxIntervalMS)*time.Millisecond,
			),
		}
		if cfg.RequestTimeoutSeconds > 0 {
			opts = append(opts, bot.WithRequestTimeout[demoUserData](time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
		}

		b := bot.New[demoUserData](cfg.Bot.APIKey, cfg.Bot.Host, cfg.Bot.Port, appLogger, opts...)
		b.AddInterface(connector.Web())
		registerDemoStories(b)

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Bot starting", "endpoint", b.Session().Endpoint())
		if err := b.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bot runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func registerDemoStories(b *bot.Bot[demoUserData]) {
	b.AddStory("greet", func(ctx context.Context, c *bot.Context[demoUserData], req *tock.UserRequest) error {
		count := c.UserData().Greetings + 1
		if err := c.Dispatch(ctx, user.Apply(func(prev demoUserData) demoUserData {
			prev.Greetings++
			return prev
		})); err != nil {
			return err
		}

		if count == 1 {
			c.SendText("Hello! Nice to meet you.", tock.NewSuggestion("Tell me more"))
			return nil
		}
		c.SendText(fmt.Sprintf("Hello again! We have greeted %d times.", count))
		return nil
	})

	b.AddStory("help", func(ctx context.Context, c *bot.Context[demoUserData], req *tock.UserRequest) error {
		c.SendMessage(tock.ImageCard("Need a hand?", "https://doc.tock.ai/favicon.png", "Try saying hello."))
		return c.RunStory(ctx, "greet")
	})
}

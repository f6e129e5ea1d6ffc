package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatkeeper/pkg/bot/quill"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/logger"
	"chatkeeper/pkg/storefront"
	"chatkeeper/pkg/watermark"

	"github.com/spf13/cobra"
)

var quillCmd = &cobra.Command{
	Use:   "quill",
	Short: "Run the quill publishing bot",
	Long:  "Runs the quill bot: buffers admin media albums, watermarks photos, posts previews with publish/delete actions, and answers /online with the storefront player report.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.Load()
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
		log := slog.Default().With("component", "cmd.quill")

		// Watermarking is optional: without a logo the albums pass through
		// untouched.
		var stamper quill.Stamper
		if cfg.Quill.WatermarkPath != "" {
			s, err := watermark.NewStamper(cfg.Quill.WatermarkPath)
			if err != nil {
				log.Error("Failed to load watermark logo", "error", err)
				return
			}
			stamper = s
		}

		report := storefront.NewClient(cfg.Storefront, log)

		bot, err := quill.New(cfg.Quill, stamper, report, log)
		if err != nil {
			log.Error("Failed to initialize quill bot", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Quill started", "channel", cfg.Quill.ChannelID)
		if err := bot.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Quill runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(quillCmd)
}

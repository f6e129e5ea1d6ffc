package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatkeeper/pkg/assistant"
	"chatkeeper/pkg/assistant/voice"
	"chatkeeper/pkg/bot/caretaker"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/fetch/reel"
	"chatkeeper/pkg/fetch/shortvideo"
	"chatkeeper/pkg/fetch/webshot"
	"chatkeeper/pkg/files"
	"chatkeeper/pkg/logger"

	"github.com/spf13/cobra"
)

var caretakerCmd = &cobra.Command{
	Use:   "caretaker",
	Short: "Run the caretaker chat bot",
	Long:  "Runs the caretaker bot: classifies group-chat messages, mirrors short-video, reel and web links, and answers bot mentions with AI text or voice.",
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
		log := slog.Default().With("component", "cmd.caretaker")

		collab, err := caretakerCollaborators(cfg, log)
		if err != nil {
			log.Error("Caretaker configuration invalid", "error", err)
			return
		}

		bot, err := caretaker.New(cfg.Caretaker, collab, log)
		if err != nil {
			log.Error("Failed to initialize caretaker bot", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Caretaker started")
		if err := bot.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Caretaker runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(caretakerCmd)
}

func caretakerCollaborators(cfg *config.Config, log *slog.Logger) (caretaker.Collaborators, error) {
	mistral, err := assistant.NewMistral(cfg.Assistants.Mistral)
	if err != nil {
		return caretaker.Collaborators{}, fmt.Errorf("configure primary assistant: %w", err)
	}

	huggingFace, err := assistant.NewHuggingFace(cfg.Assistants.HuggingFace)
	if err != nil {
		return caretaker.Collaborators{}, fmt.Errorf("configure fallback assistant: %w", err)
	}

	collab := caretaker.Collaborators{
		Videos:  shortvideo.NewClient(log),
		Reels:   reel.NewClient(cfg.Caretaker.ReelResolverURL, log),
		Pages:   webshot.NewRenderer(log),
		Answers: assistant.NewChain(log, mistral, huggingFace),
		Store:   files.NewStore(cfg.Downloads.Dir, log),
	}

	// Voice is optional: without credentials all answers go out as text.
	if cfg.Voice.APIKey != "" {
		synth, err := voice.New(cfg.Voice)
		if err != nil {
			return caretaker.Collaborators{}, fmt.Errorf("configure voice synthesis: %w", err)
		}
		collab.Voice = synth
	}

	return collab, nil
}

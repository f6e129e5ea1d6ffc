package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatkeeper",
	Short: "Telegram chat bots: caretaker and quill",
	Long:  "Chatkeeper runs two Telegram bots: caretaker mirrors short-video, reel and web links into group chats and answers mentions; quill buffers, watermarks and publishes media albums to a channel.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

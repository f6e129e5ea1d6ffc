// Package channel defines the capability surface handlers use to talk to the
// messaging platform. Handlers depend on these interfaces only; the telegram
// subpackage provides the real implementation.
package channel

import (
	"context"
	"io"
	"strings"
)

// MediaItem is one element of a media batch send.
type MediaItem struct {
	Kind    string // "photo" or "video"
	FileRef string // remote URL or platform file id
	Upload  io.Reader
	Caption string
	HTML    bool
}

// ActionButton is one inline-keyboard button. Data comes back verbatim in the
// button-press callback.
type ActionButton struct {
	Label string
	Data  string
}

// ReplyOptions tweaks a text reply.
type ReplyOptions struct {
	ReplyTo    int // platform message id to reply to, 0 for none
	Silent     bool
	MarkdownV2 bool
	HTML       bool
}

// Messenger is the platform-side send/delete surface. All calls may fail;
// delete failures caused by missing rights are non-fatal by contract and
// callers detect them with IsPermissionDenied.
type Messenger interface {
	Reply(ctx context.Context, chatID int64, text string, opts ReplyOptions) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendPhoto(ctx context.Context, chatID int64, photo io.Reader, caption string, replyTo int) error
	SendVideoURL(ctx context.Context, chatID int64, url, caption string) error
	SendVideoUpload(ctx context.Context, chatID int64, video io.Reader, caption string) error
	SendAudioURL(ctx context.Context, chatID int64, url string) error
	SendVoice(ctx context.Context, chatID int64, voice io.Reader, caption string) error
	SendMediaBatch(ctx context.Context, chatID int64, items []MediaItem) ([]int, error)
	SendPoll(ctx context.Context, chatID int64, question string, options []string) error
}

// Bot is one running bot instance bound to a transport.
type Bot interface {
	Name() string
	Run(ctx context.Context) error
}

// permissionMarkers are the platform error descriptions that mean the bot
// lacks rights for the attempted side effect.
var permissionMarkers = []string{
	"message can't be deleted",
	"not enough rights",
	"need administrator rights",
	"CHAT_ADMIN_REQUIRED",
}

// IsPermissionDenied reports whether err is a platform permission failure.
// Handlers skip the offending side effect and continue.
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}

	text := err.Error()
	for _, marker := range permissionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}

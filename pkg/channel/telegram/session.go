package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

// Session is one live connection to the Telegram Bot API. Sessions are
// disposable values: a systemic timeout tears the whole session down and the
// owning bot constructs a fresh one after a cool-down instead of mutating
// shared state.
type Session struct {
	bot   *telego.Bot
	token string
	log   *slog.Logger
}

// NewSession validates the token and connects a session.
func NewSession(token string, log *slog.Logger) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Session{
		bot:   bot,
		token: token,
		log:   log.With("component", "channel.telegram"),
	}, nil
}

// Updates starts long polling bound to ctx. Canceling ctx stops the poll and
// closes the returned stream, which is how the owning bot retires a session.
func (s *Session) Updates(ctx context.Context) (<-chan telego.Update, error) {
	updates, err := s.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start long polling: %w", err)
	}

	return updates, nil
}

// Username returns the bot's @username for mention matching.
func (s *Session) Username(ctx context.Context) (string, error) {
	me, err := s.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("get bot identity: %w", err)
	}

	return "@" + me.Username, nil
}

// FileURL resolves a platform file id to its download URL.
func (s *Session) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := s.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file id %s", fileID)
	}

	return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", s.token, file.FilePath), nil
}

// DownloadFile fetches the raw bytes of a platform file.
func (s *Session) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := s.FileURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// chatRef converts a configured chat reference into a telego ChatID. Channel
// references may be @usernames or numeric ids.
func chatRef(ref string) telego.ChatID {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") {
		return telego.ChatID{Username: ref}
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return telego.ChatID{Username: "@" + ref}
	}

	return telego.ChatID{ID: id}
}

// Package caretaker implements the group-chat caretaker bot: it watches chat
// messages, classifies link and mention content, and replies with fetched
// media or AI answers. Messages are processed strictly in arrival order
// through a single dispatch queue so a chat always sees replies in the order
// messages were sent.
package caretaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"chatkeeper/pkg/channel"
	"chatkeeper/pkg/channel/telegram"
	"chatkeeper/pkg/classify"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/fetch/shortvideo"
	"chatkeeper/pkg/queue"
)

// Link patterns, in priority order. The mention matcher is registered first
// so a mention that quotes a link is answered instead of mirrored.
var (
	shortVideoPattern = regexp.MustCompile(`(?i)(https?://)?(vm\.|www\.|m\.)?tiktok\.com/[@A-Za-z0-9_\-./]+`)
	reelPattern       = regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?instagram\.com/.*`)
	webPagePattern    = regexp.MustCompile(`https?://(www\.)?[a-zA-Z0-9-._~:/?#\[\]@!$&'()*+,;=]{2,}`)
	newlinePattern    = regexp.MustCompile(`[\r\n]+`)
)

// session is the slice of telegram.Session the bot drives. Sessions are
// disposable: a systemic timeout retires the current one and a fresh one is
// built after the cool-down.
type session interface {
	channel.Messenger
	Updates(ctx context.Context) (<-chan telego.Update, error)
	Username(ctx context.Context) (string, error)
}

// VideoFetcher resolves short-video links into playable metadata.
type VideoFetcher interface {
	FetchInfo(ctx context.Context, url string) (shortvideo.Info, error)
}

// ReelFetcher resolves reel links into video streams.
type ReelFetcher interface {
	FetchStream(ctx context.Context, url string) (io.ReadCloser, error)
}

// PageRenderer captures page screenshots.
type PageRenderer interface {
	Screenshot(ctx context.Context, url string) ([]byte, error)
}

// Answerer produces an AI text answer for a prompt.
type Answerer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VoiceSynthesizer renders an answer as spoken audio.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// MediaStore holds transient media downloads for re-upload.
type MediaStore interface {
	Download(ctx context.Context, url string) (string, error)
	Remove(path string)
}

// Collaborators are the external content services the handlers call into.
// Voice is optional; without it all answers go out as text.
type Collaborators struct {
	Videos VideoFetcher
	Reels  ReelFetcher
	Pages  PageRenderer
	Answers Answerer
	Voice  VoiceSynthesizer
	Store  MediaStore
}

// Bot is the caretaker bot instance.
type Bot struct {
	cfg    config.CaretakerConfig
	log    *slog.Logger
	collab Collaborators

	queue    *queue.Queue
	registry *classify.Registry

	newSession func(ctx context.Context) (session, error)
	restartCh  chan struct{}

	mu        sync.RWMutex
	messenger channel.Messenger
	botName   string
}

// New wires the bot. The dispatch queue and pattern registry are fixed at
// construction; only the platform session is rebuilt at runtime.
func New(cfg config.CaretakerConfig, collab Collaborators, log *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("caretaker token is required")
	}
	if collab.Videos == nil || collab.Reels == nil || collab.Pages == nil || collab.Answers == nil || collab.Store == nil {
		return nil, errors.New("all content collaborators except voice are required")
	}
	if log == nil {
		log = slog.Default()
	}

	b := &Bot{
		cfg:       cfg,
		log:       log.With("component", "bot.caretaker"),
		collab:    collab,
		restartCh: make(chan struct{}, 1),
	}
	b.newSession = func(_ context.Context) (session, error) {
		return telegram.NewSession(cfg.Token, b.log)
	}

	b.queue = queue.New(b.dispatch, b.log)

	b.registry = classify.NewRegistry(b.log)
	b.registry.Register(classify.AssistantMention, b.matchMention, b.handleMention)
	b.registry.RegisterRegexp(classify.ShortVideo, shortVideoPattern, b.handleShortVideo)
	b.registry.RegisterRegexp(classify.ReelVideo, reelPattern, b.handleReel)
	b.registry.RegisterRegexp(classify.WebPage, webPagePattern, b.handleWebPage)

	return b, nil
}

func (b *Bot) Name() string { return "caretaker" }

// Run drives the session lifecycle until ctx is canceled. A session retired
// by a systemic timeout is replaced after the configured cool-down; the queue
// and its backlog survive the swap, so draining resumes from the current head.
func (b *Bot) Run(ctx context.Context) error {
	for {
		if err := b.runSession(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		cooldown := time.Duration(b.cfg.RestartCooldownSeconds) * time.Second
		b.log.Warn("Session retired, restarting after cool-down", "cooldown", cooldown)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cooldown):
		}
	}
}

func (b *Bot) runSession(ctx context.Context) error {
	sess, err := b.newSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	b.setMessenger(sess)

	name, err := sess.Username(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot username: %w", err)
	}
	b.setBotName(name)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := sess.Updates(sessCtx)
	if err != nil {
		return err
	}

	b.log.Info("Session started", "bot", name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.restartCh:
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.onUpdate(ctx, update)
		}
	}
}

// onUpdate converts a platform update into a queue event. Enqueueing uses the
// bot-level ctx so the backlog keeps draining across session swaps.
func (b *Bot) onUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	if strings.HasPrefix(msg.Text, "/party") {
		b.sendPartyPoll(ctx, msg.Chat.ID)
		return
	}

	sender := "unknown"
	if msg.From != nil {
		sender = msg.From.Username
		if sender == "" {
			sender = msg.From.FirstName
		}
	}

	text := newlinePattern.ReplaceAllString(msg.Text, " ")
	b.queue.Enqueue(ctx, queue.NewEvent(text, sender, msg.Chat.ID, msg.MessageID))
}

// dispatch is the queue handler: classify, route, absorb the failure path.
func (b *Bot) dispatch(ctx context.Context, event queue.Event) error {
	match, ok := b.registry.Classify(event.Text)
	if !ok {
		return nil
	}

	b.log.Info("Message classified", "content_type", match.Type, "matched", match.Matched, "correlation_id", event.CorrelationID)
	if err := match.Handler(ctx, event, match.Matched); err != nil {
		b.handleFailure(ctx, event, err)
		return err
	}

	return nil
}

// handleFailure sends the single user-visible failure reply for this event
// and escalates systemic timeouts into a session restart.
func (b *Bot) handleFailure(ctx context.Context, event queue.Event, err error) {
	b.log.Error("Handler failed", "correlation_id", event.CorrelationID, "error", err)

	if replyErr := b.current().Reply(ctx, event.ChatID, "Произошла ошибка", channel.ReplyOptions{Silent: true}); replyErr != nil {
		b.log.Error("Could not send failure reply", "correlation_id", event.CorrelationID, "error", replyErr)
	}

	if isSystemicTimeout(err) {
		b.log.Warn("Systemic timeout detected, scheduling session restart", "correlation_id", event.CorrelationID)
		select {
		case b.restartCh <- struct{}{}:
		default:
		}
	}
}

// matchMention matches messages that open with the bot's @username. The
// username is known only after the session resolves it, so before that every
// text is a miss.
func (b *Bot) matchMention(text string) (string, bool) {
	botName := b.currentBotName()
	if botName == "" {
		return "", false
	}
	if !strings.HasPrefix(text, botName+" ") {
		return "", false
	}
	if strings.TrimSpace(strings.TrimPrefix(text, botName)) == "" {
		return "", false
	}

	return text, true
}

// isSystemicTimeout classifies the one failure class that warrants a session
// restart instead of a per-event failure reply alone.
func isSystemicTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), "timed out")
}

func (b *Bot) current() channel.Messenger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.messenger
}

func (b *Bot) setMessenger(m channel.Messenger) {
	b.mu.Lock()
	b.messenger = m
	b.mu.Unlock()
}

func (b *Bot) currentBotName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.botName
}

func (b *Bot) setBotName(name string) {
	b.mu.Lock()
	b.botName = name
	b.mu.Unlock()
}

// Package classify routes message text to a content handler through an
// ordered pattern registry. Registration order is the priority order: the
// first pattern whose matcher succeeds wins and later patterns are never
// evaluated, so narrow patterns (a bot mention) must be registered before
// broad ones (a generic link).
package classify

import (
	"context"
	"log/slog"
	"regexp"

	"chatkeeper/pkg/queue"
)

// ContentType tags which handler should process a message.
type ContentType string

const (
	ShortVideo       ContentType = "short_video"
	ReelVideo        ContentType = "reel_video"
	WebPage          ContentType = "web_page"
	AssistantMention ContentType = "assistant_mention"
	MediaItem        ContentType = "media_item"
)

// Handler processes one classified event. matched is the substring the
// pattern matched, usually the link to act on.
type Handler func(ctx context.Context, event queue.Event, matched string) error

// Matcher reports the first match of a pattern in text, or ok=false.
// Matchers must be pure functions of their input.
type Matcher func(text string) (matched string, ok bool)

// Match is a successful classification.
type Match struct {
	Type    ContentType
	Matched string
	Handler Handler
}

type entry struct {
	contentType ContentType
	matcher     Matcher
	handler     Handler
}

// Registry is a fixed, ordered set of (type, matcher, handler) entries.
type Registry struct {
	entries []entry
	log     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{log: log.With("component", "classify")}
}

// Register appends an entry. Order of Register calls defines priority.
func (r *Registry) Register(contentType ContentType, matcher Matcher, handler Handler) {
	r.entries = append(r.entries, entry{contentType: contentType, matcher: matcher, handler: handler})
}

// RegisterRegexp registers a regexp-backed matcher.
func (r *Registry) RegisterRegexp(contentType ContentType, pattern *regexp.Regexp, handler Handler) {
	r.Register(contentType, func(text string) (string, bool) {
		matched := pattern.FindString(text)
		return matched, matched != ""
	}, handler)
}

// Classify evaluates entries in registration order and returns the first
// match. ok=false means no pattern matched; the caller drops the event
// silently. A panicking matcher counts as a miss for that entry only.
func (r *Registry) Classify(text string) (Match, bool) {
	for _, e := range r.entries {
		matched, ok := r.tryMatch(e, text)
		if ok {
			return Match{Type: e.contentType, Matched: matched, Handler: e.handler}, true
		}
	}

	return Match{}, false
}

func (r *Registry) tryMatch(e entry, text string) (matched string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Matcher panicked, treating as miss", "content_type", e.contentType, "panic", rec)
			matched, ok = "", false
		}
	}()

	return e.matcher(text)
}

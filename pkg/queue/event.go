package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags which platform payload an event carries. Dispatch code matches on
// the kind exhaustively instead of probing optional fields.
type Kind string

const (
	KindText     Kind = "text"
	KindMedia    Kind = "media"
	KindCallback Kind = "callback"
)

// CaptionEntity is one formatting entity attached to a media caption.
type CaptionEntity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

// MediaPayload is the media part of a photo or video message.
type MediaPayload struct {
	PhotoFileID string
	VideoFileID string
	Caption     string
	Entities    []CaptionEntity
}

// CallbackPayload is an inline-keyboard button press.
type CallbackPayload struct {
	ID        string
	Data      string
	MessageID int
}

// Event is one inbound chat message frozen at ingestion time. Events are
// immutable once enqueued and are consumed exactly once by the drain worker.
// Exactly one of the payload pointers is set for non-text kinds.
type Event struct {
	Kind          Kind
	Text          string
	SenderName    string
	ChatID        int64
	MessageID     int
	ReceivedAt    time.Time
	GroupID       string
	CorrelationID string

	Media    *MediaPayload
	Callback *CallbackPayload
}

// NewEvent builds a text event and derives its correlation ID from the
// platform message id and chat id. Events without a platform id (synthetic or
// replayed) get a random ID so log lines stay traceable.
func NewEvent(text, senderName string, chatID int64, messageID int) Event {
	return Event{
		Kind:          KindText,
		Text:          text,
		SenderName:    senderName,
		ChatID:        chatID,
		MessageID:     messageID,
		ReceivedAt:    time.Now().UTC(),
		CorrelationID: correlationID(chatID, messageID),
	}
}

// NewMediaEvent builds a media event. groupID is empty for standalone media
// messages and set for album members.
func NewMediaEvent(media MediaPayload, groupID string, chatID int64, messageID int) Event {
	return Event{
		Kind:          KindMedia,
		ChatID:        chatID,
		MessageID:     messageID,
		ReceivedAt:    time.Now().UTC(),
		GroupID:       groupID,
		CorrelationID: correlationID(chatID, messageID),
		Media:         &media,
	}
}

// NewCallbackEvent builds a button-press event.
func NewCallbackEvent(callback CallbackPayload, chatID int64) Event {
	return Event{
		Kind:          KindCallback,
		ChatID:        chatID,
		MessageID:     callback.MessageID,
		ReceivedAt:    time.Now().UTC(),
		CorrelationID: correlationID(chatID, callback.MessageID),
		Callback:      &callback,
	}
}

func correlationID(chatID int64, messageID int) string {
	if messageID == 0 {
		return uuid.NewString()
	}

	return fmt.Sprintf("%d-%d", messageID, chatID)
}

// ABOUTME: Live-session event types, constructors and validation
// ABOUTME: Chat, tip and system events share one struct; Amount is set only on tips

package live

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTipAmount means a tip amount was missing, non-finite or not positive
	ErrInvalidTipAmount = errors.New("invalid tip amount")

	// ErrInvalidEvent means the event is malformed for its kind
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicateEvent means an event with the same id was already accepted
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrInvalidViewerCount means a negative viewer count was supplied
	ErrInvalidViewerCount = errors.New("invalid viewer count")
)

// SystemAuthor is the author of events the session itself emits
const SystemAuthor = "System"

// Kind is the type of a live event
type Kind string

const (
	KindChat   Kind = "chat"
	KindTip    Kind = "tip"
	KindSystem Kind = "system"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindTip, KindSystem:
		return true
	}
	return false
}

// Event is one entry in the live stream. Seq is the arrival index assigned by
// the Bus and is the authoritative order; CreatedAt is informational.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Author    string    `json:"author"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Amount    *float64  `json:"amount,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat builds a chat event
func Chat(author, content string) Event {
	return Event{Author: author, Kind: KindChat, Content: content}
}

// Tip builds a tip event with the conventional "tipped $N" content
func Tip(author string, amount float64) Event {
	return Event{
		Author:  author,
		Kind:    KindTip,
		Content: "tipped $" + strconv.FormatFloat(amount, 'f', -1, 64),
		Amount:  &amount,
	}
}

// System builds a system event
func System(content string) Event {
	return Event{Author: SystemAuthor, Kind: KindSystem, Content: content}
}

// Validate checks the event's shape for its kind
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}

	if e.Kind == KindTip {
		if e.Amount == nil {
			return fmt.Errorf("%w: tip without amount", ErrInvalidTipAmount)
		}
		amount := *e.Amount
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidTipAmount, amount)
		}
		return nil
	}

	if e.Amount != nil {
		return fmt.Errorf("%w: amount on %s event", ErrInvalidEvent, e.Kind)
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("%w: empty %s content", ErrInvalidEvent, e.Kind)
	}
	if e.Kind == KindChat && strings.TrimSpace(e.Author) == "" {
		return fmt.Errorf("%w: chat without author", ErrInvalidEvent)
	}
	return nil
}

func (e Event) amount() float64 {
	if e.Amount == nil {
		return 0
	}
	return *e.Amount
}

// Package notify carries short user-facing status messages.
package notify

import "time"

type Tone string

const (
	ToneInfo  Tone = "info"
	ToneOK    Tone = "ok"
	ToneError Tone = "error"
)

// DefaultDuration is how long a message stays up when none is given.
const DefaultDuration = 4500 * time.Millisecond

type Notification struct {
	Text string `json:"text"`
	Tone Tone   `json:"tone"`
	// Duration of zero keeps the message until replaced.
	Duration time.Duration `json:"-"`
}

// DurationMS is the wire form of Duration.
func (n Notification) DurationMS() int64 { return n.Duration.Milliseconds() }

// New returns a notification with the default duration. An unknown tone
// becomes info.
func New(text string, tone Tone) Notification {
	switch tone {
	case ToneInfo, ToneOK, ToneError:
	default:
		tone = ToneInfo
	}
	return Notification{Text: text, Tone: tone, Duration: DefaultDuration}
}

// Sticky returns n with no auto-dismiss.
func (n Notification) Sticky() Notification {
	n.Duration = 0
	return n
}

type Notifier interface {
	Notify(Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) {
	if f != nil {
		f(n)
	}
}

// Discard drops every notification.
var Discard Notifier = Func(nil)

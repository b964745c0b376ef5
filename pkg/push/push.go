// Package push delivers theft notifications to browsers via web push and to
// chat or webhook channels.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/shopguard/internal/metrics"
)

// Defaults applied to empty message fields.
const (
	DefaultTitle = "Theft Alert!"
	DefaultBody  = "A theft alert has been triggered."
	DefaultURL   = "/"
)

// Message is the payload delivered to every destination.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Image string `json:"image,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// WithDefaults fills empty title, body and url.
func (m Message) WithDefaults() Message {
	if m.Title == "" {
		m.Title = DefaultTitle
	}
	if m.Body == "" {
		m.Body = DefaultBody
	}
	if m.URL == "" {
		m.URL = DefaultURL
	}
	return m
}

// Notifier delivers messages to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, m *Message) error
}

// Manager broadcasts messages to all registered channel notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a manager over notifiers.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends m to every notifier. One failing channel does not stop
// the others; all failures are joined.
func (m *Manager) Broadcast(ctx context.Context, msg *Message) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		err := n.Send(ctx, msg)
		metrics.RecordPush(n.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

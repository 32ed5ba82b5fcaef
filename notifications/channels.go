package notifications

import (
	"context"
	"errors"
	"log"
	"strings"
)

// Channel names
const (
	ChannelVoice = "voice"
	ChannelSMS   = "sms"
	ChannelChat  = "chat"
)

// ErrNotIntegrated is returned by channels without a delivery backend
var ErrNotIntegrated = errors.New("delivery not integrated")

// Channel delivers an alert to one external medium
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert Alert) error
}

// StubChannel logs the alert it would have delivered
type StubChannel struct {
	name string
}

// NewStubChannel creates a stub for the named channel
func NewStubChannel(name string) *StubChannel {
	return &StubChannel{name: name}
}

// Name returns the channel name
func (s *StubChannel) Name() string {
	return s.name
}

// Deliver logs the alert and reports that no backend exists
func (s *StubChannel) Deliver(_ context.Context, alert Alert) error {
	log.Printf("📣 [%s] %s %s %s zone %s: delivery not integrated",
		s.name, alert.Tier, alert.Symbol, alert.Direction, alert.EntryZone)
	return ErrNotIntegrated
}

// StubChannels builds stubs for the enabled channel names; unknown names are skipped
func StubChannels(enabled []string) []Channel {
	known := map[string]bool{ChannelVoice: true, ChannelSMS: true, ChannelChat: true}

	var out []Channel
	for _, name := range enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if !known[name] {
			log.Printf("⚠️  Unknown alert channel %q ignored", name)
			continue
		}
		out = append(out, NewStubChannel(name))
	}
	return out
}

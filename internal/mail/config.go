package mail

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	postmarkBaseURL = "https://api.postmarkapp.com"

	// DefaultMessageStream is Postmark's transactional stream.
	DefaultMessageStream = "outbound"
)

// Config holds configuration for the Postmark delivery client.
type Config struct {
	// ServerToken authenticates against the Postmark server API (required)
	ServerToken string

	// From is the sender address of every reply (required)
	From string

	// ReplyToPattern is a fmt pattern receiving the thread key, for example
	// "ops+%s@inbound.example.com". Replies to that address carry the key
	// back as the inbound mailbox hash.
	ReplyToPattern string

	// Tag labels outgoing messages in Postmark
	Tag string

	// MessageStream selects the Postmark stream (defaults to "outbound")
	MessageStream string

	// BaseURL overrides the API endpoint (tests)
	BaseURL string

	// RateLimit configures sends per second
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// Timeout bounds each API call
	Timeout time.Duration

	// Recorder observes delivery outcomes (optional)
	Recorder Recorder

	Logger *slog.Logger
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerToken) == "" {
		return errors.New("mail: server_token is required")
	}
	if strings.TrimSpace(c.From) == "" {
		return errors.New("mail: from is required")
	}
	if c.ReplyToPattern != "" && strings.Count(c.ReplyToPattern, "%s") != 1 {
		return errors.New("mail: reply_to_pattern must contain exactly one %s")
	}
	if c.MessageStream == "" {
		c.MessageStream = DefaultMessageStream
	}
	if c.BaseURL == "" {
		c.BaseURL = postmarkBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	// Postmark accepts bursts well above this; the limit protects the account.
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

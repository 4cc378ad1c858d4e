// Package mail delivers replies through the Postmark API and decodes the
// Postmark inbound webhook payload.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/mailops/pkg/models"
)

// Recorder observes delivery outcomes.
type Recorder interface {
	DeliveryAttempted(success bool)
}

// Client sends replies through Postmark.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:     config.Logger.With("component", "mail"),
	}, nil
}

// Attachment is one Postmark attachment.
type Attachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

// Email is the Postmark /email request body.
type Email struct {
	From          string       `json:"From"`
	To            string       `json:"To"`
	ReplyTo       string       `json:"ReplyTo,omitempty"`
	Subject       string       `json:"Subject"`
	HTMLBody      string       `json:"HtmlBody,omitempty"`
	TextBody      string       `json:"TextBody,omitempty"`
	Tag           string       `json:"Tag,omitempty"`
	MessageStream string       `json:"MessageStream,omitempty"`
	Attachments   []Attachment `json:"Attachments,omitempty"`
}

// SendResult is the Postmark response body.
type SendResult struct {
	To        string `json:"To"`
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// APIError is a non-success Postmark response.
type APIError struct {
	Status    int
	ErrorCode int
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("postmark API error %d (code %d): %s", e.Status, e.ErrorCode, e.Message)
}

// Deliver builds and sends the reply for req.
func (c *Client) Deliver(ctx context.Context, req models.DeliveryRequest) (err error) {
	defer func() {
		if c.config.Recorder != nil {
			c.config.Recorder.DeliveryAttempted(err == nil)
		}
	}()

	email, err := c.Build(req)
	if err != nil {
		return err
	}
	result, err := c.Send(ctx, email)
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "reply sent",
		"thread_key", req.ThreadKey,
		"to", req.ToAddress,
		"message_id", result.MessageID,
		"attachments", len(email.Attachments),
	)
	return nil
}

// Build converts a delivery request into a Postmark email.
func (c *Client) Build(req models.DeliveryRequest) (*Email, error) {
	if strings.TrimSpace(req.ToAddress) == "" {
		return nil, fmt.Errorf("delivery has no recipient")
	}
	html, err := RenderHTML(req.BodyMarkdown)
	if err != nil {
		return nil, err
	}
	email := &Email{
		From:          c.config.From,
		To:            req.ToAddress,
		ReplyTo:       ReplyTo(c.config.ReplyToPattern, req.ThreadKey),
		Subject:       req.Subject,
		HTMLBody:      html,
		TextBody:      req.BodyMarkdown,
		Tag:           c.config.Tag,
		MessageStream: c.config.MessageStream,
	}
	seen := make(map[string]bool, len(req.AttachmentPaths))
	for _, path := range req.AttachmentPaths {
		if seen[path] {
			continue
		}
		seen[path] = true
		attachment, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		email.Attachments = append(email.Attachments, attachment)
	}
	return email, nil
}

// Send posts email to the Postmark API.
func (c *Client) Send(ctx context.Context, email *Email) (*SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("marshal email: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Postmark-Server-Token", c.config.ServerToken)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var result SendResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 400 || result.ErrorCode != 0 {
		msg := result.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &APIError{Status: resp.StatusCode, ErrorCode: result.ErrorCode, Message: msg}
	}

	c.logger.Debug("postmark request complete", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return &result, nil
}

// ReplyTo renders the reply routing address for a thread. An empty pattern
// yields no Reply-To header.
func ReplyTo(pattern, threadKey string) string {
	if pattern == "" {
		return ""
	}
	return fmt.Sprintf(pattern, threadKey)
}

// ContentID returns the inline content id bound to an attachment path.
func ContentID(path string) string {
	base := filepath.Base(path)
	return "cid:" + strings.TrimSuffix(base, filepath.Ext(base))
}

func loadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "image/png"
	}
	return Attachment{
		Name:        filepath.Base(path),
		Content:     base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
		ContentID:   ContentID(path),
	}, nil
}

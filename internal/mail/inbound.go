package mail

import (
	"strings"

	"github.com/haasonsaas/mailops/pkg/models"
)

// InboundAddress is one parsed address of an inbound webhook.
type InboundAddress struct {
	Email       string `json:"Email"`
	Name        string `json:"Name"`
	MailboxHash string `json:"MailboxHash"`
}

// InboundPayload is the body of Postmark's inbound webhook.
type InboundPayload struct {
	MessageID         string          `json:"MessageID"`
	From              string          `json:"From"`
	FromName          string          `json:"FromName"`
	FromFull          *InboundAddress `json:"FromFull"`
	To                string          `json:"To"`
	Subject           string          `json:"Subject"`
	TextBody          string          `json:"TextBody"`
	HTMLBody          string          `json:"HtmlBody"`
	StrippedTextReply string          `json:"StrippedTextReply"`
	MailboxHash       string          `json:"MailboxHash"`
	Date              string          `json:"Date"`
}

// Message normalizes the payload. The mailbox hash becomes the correlation
// hint, so replies to "ops+<key>@..." land on thread <key>.
func (p *InboundPayload) Message() models.InboundMessage {
	from := p.From
	if p.FromFull != nil && strings.TrimSpace(p.FromFull.Email) != "" {
		from = p.FromFull.Email
	}
	body := p.TextBody
	if strings.TrimSpace(body) == "" {
		body = p.StrippedTextReply
	}
	return models.InboundMessage{
		MessageID:       p.MessageID,
		FromAddress:     strings.TrimSpace(from),
		Subject:         p.Subject,
		TextBody:        body,
		CorrelationHint: strings.TrimSpace(p.MailboxHash),
	}
}

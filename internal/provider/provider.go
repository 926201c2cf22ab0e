package provider

import (
	"context"

	"github.com/academic360/notification-worker/internal/domain"
)

const defaultMimeType = "application/octet-stream"

// Attachment is a file ready to be sent: its bytes are already in memory.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Message is one fully rendered email addressed to a single recipient.
type Message struct {
	To          domain.Recipient
	Subject     string
	HTML        string
	FromName    string
	Attachments []Attachment
}

// Mailer abstracts delivery to an outbound email provider.
// Mocking this interface in tests gives full control over provider behaviour
// without opening real SMTP or HTTP connections.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Sender identifies the envelope sender for every outgoing message.
type Sender struct {
	Address string
	Name    string
}

// name returns the per-message display name when set, else the default.
func (s Sender) name(msg Message) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	return s.Name
}

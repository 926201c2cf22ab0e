package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type apiAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type apiRecipient struct {
	EmailAddress apiAddress `json:"email_address"`
}

type apiAttachment struct {
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
}

// apiRequest is the JSON body posted to the transactional mail API.
type apiRequest struct {
	From        apiAddress      `json:"from"`
	To          []apiRecipient  `json:"to"`
	Subject     string          `json:"subject"`
	HTMLBody    string          `json:"htmlbody"`
	Attachments []apiAttachment `json:"attachments,omitempty"`
}

// HTTPMailer delivers messages through a ZeptoMail-style HTTP API.
// The URL is injected from config so tests can point to a local mock.
type HTTPMailer struct {
	client *resty.Client
	url    string
	from   Sender
}

func NewHTTPMailer(url, token string, from Sender, timeout time.Duration) *HTTPMailer {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Zoho-enczapikey "+token)
	return &HTTPMailer{client: client, url: url, from: from}
}

// Send posts msg to the API and treats any non-2xx status as a failure.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	body := apiRequest{
		From:     apiAddress{Address: m.from.Address, Name: m.from.name(msg)},
		To:       []apiRecipient{{EmailAddress: apiAddress{Address: msg.To.Address, Name: msg.To.DisplayName}}},
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
	}
	for _, a := range msg.Attachments {
		mime := a.MimeType
		if mime == "" {
			mime = defaultMimeType
		}
		body.Attachments = append(body.Attachments, apiAttachment{
			Content:  base64.StdEncoding.EncodeToString(a.Data),
			MimeType: mime,
			Name:     a.Filename,
		})
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(m.url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected mail api status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Mailer = (*HTTPMailer)(nil)

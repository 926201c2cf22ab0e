package provider

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"
)

// SMTPMailer delivers messages through an SMTP relay.
// Every Send dials a fresh connection so a broken relay session never
// poisons later sends.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   Sender
}

func NewSMTPMailer(host string, port int, user, password string, from Sender) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
	}
}

// Send dials and sends msg. gomail has no context support, so the dial
// runs in its own goroutine and Send returns as soon as ctx is done.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	gm := m.buildMessage(msg)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(gm)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To.Address, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SMTPMailer) buildMessage(msg Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.from.Address, m.from.name(msg))
	gm.SetAddressHeader("To", msg.To.Address, msg.To.DisplayName)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.HTML)

	for _, a := range msg.Attachments {
		data := a.Data
		mime := a.MimeType
		if mime == "" {
			mime = defaultMimeType
		}
		gm.Attach(a.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {mime}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		)
	}
	return gm
}

func (m *SMTPMailer) Host() string { return m.dialer.Host }

var _ Mailer = (*SMTPMailer)(nil)

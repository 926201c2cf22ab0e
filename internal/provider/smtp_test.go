package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic360/notification-worker/internal/domain"
)

func TestSMTPMailer_BuildMessage(t *testing.T) {
	m := NewSMTPMailer("localhost", 25, "", "", Sender{Address: "noreply@example.com", Name: "College"})

	gm := m.buildMessage(Message{
		To:       domain.Recipient{Address: "s@example.com", DisplayName: "Riya"},
		Subject:  "Fee reminder",
		HTML:     "<p>due</p>",
		FromName: "Exams Cell",
		Attachments: []Attachment{
			{Filename: "receipt.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")},
		},
	})

	var buf bytes.Buffer
	_, err := gm.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, `From: "Exams Cell" <noreply@example.com>`)
	assert.Contains(t, out, `To: "Riya" <s@example.com>`)
	assert.Contains(t, out, "Subject: Fee reminder")
	assert.Contains(t, out, "<p>due</p>")
	assert.Contains(t, out, `filename="receipt.pdf"`)
	assert.Contains(t, out, "application/pdf")
	assert.Contains(t, out, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")))
}

func TestSMTPMailer_DefaultFromName(t *testing.T) {
	m := NewSMTPMailer("localhost", 25, "", "", Sender{Address: "noreply@example.com", Name: "College"})

	var buf bytes.Buffer
	_, err := m.buildMessage(Message{To: domain.Recipient{Address: "s@example.com"}}).WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `From: "College" <noreply@example.com>`)
}

func TestSMTPMailer_SendHonoursContext(t *testing.T) {
	// A relay that accepts connections but never greets.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	m := NewSMTPMailer("127.0.0.1", addr.Port, "", "", Sender{Address: "noreply@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = m.Send(ctx, Message{To: domain.Recipient{Address: "s@example.com"}, Subject: "x", HTML: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailer_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := NewSMTPMailer("127.0.0.1", port, "", "", Sender{Address: "noreply@example.com"})
	err = m.Send(context.Background(), Message{To: domain.Recipient{Address: "s@example.com"}})
	assert.ErrorContains(t, err, "smtp send to s@example.com")
}

package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/provider"
)

func TestAttachmentResolver_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/admit-card.pdf":
			w.Header().Set("Content-Type", "application/pdf; charset=binary")
			_, _ = w.Write([]byte("%PDF"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := provider.NewAttachmentResolver(time.Second, zap.NewNop())
	got := r.Resolve(context.Background(), []domain.Attachment{
		{Filename: "note.txt", MimeType: "text/plain", ContentBase64: "aGVsbG8="},
		{URL: srv.URL + "/docs/admit-card.pdf"},
		{Filename: "gone.pdf", URL: srv.URL + "/missing.pdf"},
		{Filename: "bad.bin", ContentBase64: "***"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, provider.Attachment{Filename: "note.txt", MimeType: "text/plain", Data: []byte("hello")}, got[0])
	assert.Equal(t, provider.Attachment{Filename: "admit-card.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}, got[1])
}

func TestAttachmentResolver_Empty(t *testing.T) {
	r := provider.NewAttachmentResolver(time.Second, zap.NewNop())
	assert.Nil(t, r.Resolve(context.Background(), nil))
}

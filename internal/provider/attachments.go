package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"path"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
)

// AttachmentResolver turns declared attachments into in-memory files.
// Attachments that cannot be decoded or downloaded are logged and skipped;
// they never fail the email they belong to.
type AttachmentResolver struct {
	client *resty.Client
	log    *zap.Logger
}

func NewAttachmentResolver(timeout time.Duration, log *zap.Logger) *AttachmentResolver {
	return &AttachmentResolver{client: resty.New().SetTimeout(timeout), log: log}
}

func (r *AttachmentResolver) Resolve(ctx context.Context, atts []domain.Attachment) []Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(atts))
	for _, a := range atts {
		var (
			resolved Attachment
			err      error
		)
		if a.ContentBase64 != "" {
			resolved, err = decodeInline(a)
		} else {
			resolved, err = r.download(ctx, a)
		}
		if err != nil {
			r.log.Warn("skipping attachment",
				zap.String("filename", a.Filename),
				zap.String("url", a.URL),
				zap.Error(err),
			)
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func decodeInline(a domain.Attachment) (Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(a.ContentBase64)
	if err != nil {
		return Attachment{}, fmt.Errorf("decode base64: %w", err)
	}
	return Attachment{Filename: a.Filename, MimeType: a.MimeType, Data: data}, nil
}

func (r *AttachmentResolver) download(ctx context.Context, a domain.Attachment) (Attachment, error) {
	resp, err := r.client.R().SetContext(ctx).Get(a.URL)
	if err != nil {
		return Attachment{}, fmt.Errorf("download: %w", err)
	}
	if resp.IsError() {
		return Attachment{}, fmt.Errorf("download: status %d", resp.StatusCode())
	}

	name := a.Filename
	if name == "" {
		name = filenameFromURL(a.URL)
	}
	mimeType := a.MimeType
	if mimeType == "" {
		if mt, _, err := mime.ParseMediaType(resp.Header().Get("Content-Type")); err == nil {
			mimeType = mt
		}
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	return Attachment{Filename: name, MimeType: mimeType, Data: resp.Body()}, nil
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "attachment"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "attachment"
	}
	return base
}

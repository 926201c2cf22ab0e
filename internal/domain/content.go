package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DefaultSubject = "Notification"
	DefaultBody    = "<p></p>"
)

// SourceKind distinguishes literal text from text that must be rendered.
type SourceKind int

const (
	SourceLiteral SourceKind = iota
	SourceTemplate
)

// SubjectSource is either a literal subject or a template string.
// Fallback is used when a template renders to an empty string.
type SubjectSource struct {
	Kind     SourceKind
	Text     string
	Fallback string
}

// BodySource is either literal HTML or the key of a template file.
type BodySource struct {
	Kind SourceKind
	Text string
}

// Attachment is a file sent along with the email. Either ContentBase64 is
// set, or URL points to a document that is downloaded at send time.
type Attachment struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	ContentBase64 string `json:"contentBase64,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Content is the render payload of a notification with all defaults
// applied. Build it with ParseContent or DefaultContent.
type Content struct {
	NotificationID int64
	Subject        SubjectSource
	Body           BodySource
	Attachments    []Attachment
	FromName       string
	TemplateData   map[string]any
	DevOnly        bool
}

// ContentDefaults are applied once while parsing.
type ContentDefaults struct {
	FromName string
	// Subjects maps an email template key to the subject used when the
	// payload carries neither subject nor subjectTemplate.
	Subjects map[string]string
}

type rawAttachment struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	ContentBase64 string `json:"contentBase64"`
	URL           string `json:"url"`
	PdfS3URL      string `json:"pdfS3Url"`
}

type rawContent struct {
	Subject          string          `json:"subject"`
	SubjectTemplate  string          `json:"subjectTemplate"`
	HTML             string          `json:"html"`
	EmailTemplate    string          `json:"emailTemplate"`
	EmailAttachments []rawAttachment `json:"emailAttachments"`
	EmailFromName    string          `json:"emailFromName"`
	TemplateData     map[string]any  `json:"templateData"`
	Meta             struct {
		DevOnly bool `json:"devOnly"`
	} `json:"meta"`
}

// ParseContent decodes the JSON payload stored in notification_content.
// An empty payload yields the defaults; undecodable JSON is reported as
// ErrMalformedContent.
func ParseContent(notificationID int64, raw []byte, d ContentDefaults) (*Content, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return DefaultContent(notificationID, d), nil
	}

	var rc rawContent
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: notification %d: %v", ErrMalformedContent, notificationID, err)
	}
	return rc.normalize(notificationID, d), nil
}

// DefaultContent is used when a notification has no content row.
func DefaultContent(notificationID int64, d ContentDefaults) *Content {
	return rawContent{}.normalize(notificationID, d)
}

func (rc rawContent) normalize(notificationID int64, d ContentDefaults) *Content {
	c := &Content{
		NotificationID: notificationID,
		FromName:       firstNonEmpty(rc.EmailFromName, d.FromName),
		TemplateData:   rc.TemplateData,
		DevOnly:        rc.Meta.DevOnly,
	}
	if c.TemplateData == nil {
		c.TemplateData = map[string]any{}
	}

	literalSubject := firstNonEmpty(rc.Subject, d.Subjects[rc.EmailTemplate], DefaultSubject)
	if strings.TrimSpace(rc.SubjectTemplate) != "" {
		c.Subject = SubjectSource{Kind: SourceTemplate, Text: rc.SubjectTemplate, Fallback: literalSubject}
	} else {
		c.Subject = SubjectSource{Kind: SourceLiteral, Text: literalSubject}
	}

	switch {
	case strings.TrimSpace(rc.EmailTemplate) != "":
		c.Body = BodySource{Kind: SourceTemplate, Text: strings.TrimSpace(rc.EmailTemplate)}
	case rc.HTML != "":
		c.Body = BodySource{Kind: SourceLiteral, Text: rc.HTML}
	default:
		c.Body = BodySource{Kind: SourceLiteral, Text: DefaultBody}
	}

	for _, a := range rc.EmailAttachments {
		att := Attachment{
			Filename:      a.Filename,
			MimeType:      a.MimeType,
			ContentBase64: a.ContentBase64,
			URL:           firstNonEmpty(a.URL, a.PdfS3URL),
		}
		if att.ContentBase64 == "" && att.URL == "" {
			continue
		}
		c.Attachments = append(c.Attachments, att)
	}

	return c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

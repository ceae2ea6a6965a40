package smtptest

import (
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ParsedEmail is the interesting slice of a captured message: the top-level
// header plus decoded text parts and attachments. Transfer encodings are
// already undone, so tests can compare against the original content.
type ParsedEmail struct {
	Header      mail.Header
	Texts       []string
	Attachments []Attachment
}

// Attachment is one decoded attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParseEmail parses a message captured by the test server. If a test
// calling this is failing, make sure the part layout the message builder
// produces still matches what the test expects.
func ParseEmail(body string) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	parsed := &ParsedEmail{Header: mr.Header}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, err := h.ContentType()
			if err != nil {
				return nil, err
			}
			if !strings.HasPrefix(ct, "text/") {
				continue
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, err
			}
			parsed.Texts = append(parsed.Texts, string(b))
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, err
			}
			ct, _, err := h.ContentType()
			if err != nil {
				return nil, err
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, err
			}
			parsed.Attachments = append(parsed.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Data:        b,
			})
		}
	}

	return parsed, nil
}

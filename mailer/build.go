package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/iaasstore/restmailer/message"
)

// receivedBy names this gateway in the Received trace header of every
// message it sends, so a recipient reading raw headers can tell where the
// message entered the mail system.
const receivedBy = "by iaasstore/restmailer via API"

// buildMIME renders msg into wire-ready bytes. A message whose data is a
// single text part becomes a plain (non-multipart) message; anything else
// becomes multipart/mixed with the parts in the order the client sent them.
func buildMIME(conf Config, msg message.Message) ([]byte, error) {
	date := time.Now().UTC().Format(time.RFC1123Z)

	var h mail.Header
	h.Set("Received", fmt.Sprintf("%v; id %v; %v", receivedBy, msg.GUID, date))
	h.Set("Message-Id", fmt.Sprintf("<%v@%v>", msg.GUID, conf.ServerName))
	h.Set("Date", date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{
		{Name: msg.FromName, Address: msg.FromAddress(conf.Domain)},
	})
	h.SetAddressList("To", []*mail.Address{
		{Address: msg.AddressTo},
	})

	if len(msg.Data) == 1 && msg.Data[0].Type == message.PartText {
		return buildSingleText(h, msg.Data[0])
	}
	return buildMultipart(h, msg.Data)
}

// buildSingleText writes the whole message as one text entity, sparing
// readers the multipart wrapping when there's nothing to wrap.
func buildSingleText(h mail.Header, part message.BodyPart) ([]byte, error) {
	h.Set("Mime-Version", "1.0")
	h.SetContentType("text/"+part.Subtype, map[string]string{"charset": part.Charset})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := gomessage.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("can't start the message: %v", err)
	}
	if _, err := io.WriteString(w, crlf(part.Text)); err != nil {
		return nil, fmt.Errorf("can't write the message text: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("can't finish the message: %v", err)
	}
	return buf.Bytes(), nil
}

func buildMultipart(h mail.Header, parts []message.BodyPart) ([]byte, error) {
	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("can't start the message: %v", err)
	}

	for i, p := range parts {
		switch p.Type {
		case message.PartText:
			if err := writeTextPart(mw, p); err != nil {
				return nil, fmt.Errorf("can't write text part %v: %v", i, err)
			}
		case message.PartAttachment:
			if err := writeAttachment(mw, p); err != nil {
				return nil, fmt.Errorf("can't write attachment %q: %v", p.Name, err)
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("can't finish the message: %v", err)
	}
	return buf.Bytes(), nil
}

func writeTextPart(mw *mail.Writer, p message.BodyPart) error {
	var h mail.InlineHeader
	h.SetContentType("text/"+p.Subtype, map[string]string{"charset": p.Charset})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := mw.CreateSingleInline(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, crlf(p.Text)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, p message.BodyPart) error {
	content, err := p.Content()
	if err != nil {
		return fmt.Errorf("payload is not valid base64: %v", err)
	}

	var h mail.AttachmentHeader
	h.SetContentType(p.ContentType, nil)
	h.SetFilename(p.Name)
	h.Set("Content-Transfer-Encoding", "base64")

	w, err := mw.CreateAttachment(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// crlf normalizes line endings to the CRLF form SMTP requires on the wire.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

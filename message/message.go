package message

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Part types within Message.Data.
const (
	PartText       = "text"
	PartAttachment = "attachment"
)

// Message is a single outbound email as accepted by the API. GUID is always
// assigned server-side; anything the client sends there is discarded.
type Message struct {
	GUID string `json:"guid,omitempty" yaml:"guid,omitempty" jsonschema:"title=Идентификатор сообщения [read-only],description=Генерируется при приеме запроса; указывать не нужно"`

	// FromUser is the local part of the sender address. The domain always
	// comes from the gateway configuration, so clients can't spoof other
	// domains through us.
	FromUser string `json:"from_user,omitempty" jsonschema:"title=Имя пользователя отправителя"`
	FromName string `json:"from_name,omitempty" jsonschema:"title=Отображаемое имя отправителя"`

	AddressTo string `json:"address_to" validate:"required,email" jsonschema:"title=Адрес получателя"`
	Subject   string `json:"subject" validate:"required" jsonschema:"title=Тема сообщения"`

	Data []BodyPart `json:"data" validate:"dive" jsonschema:"title=Тело сообщения и файлы"`

	// SendTimeout caps the whole delivery (MX resolution plus every SMTP
	// attempt) in seconds. Zero means "use the configured default".
	SendTimeout int `json:"send_timeout,omitempty" validate:"omitempty,gt=0" jsonschema:"title=Максимальное время отправки письма (секунды)"`

	// IgnoreSTARTTLSCert tolerates invalid certificates during the STARTTLS
	// upgrade. A nil value means "use the configured default"; we need the
	// pointer to tell "false" apart from "not set".
	IgnoreSTARTTLSCert *bool `json:"ignore_starttls_cert,omitempty" jsonschema:"title=Игнорировать ошибки сертификата при STARTTLS upgrade"`
}

// BodyPart is one element of Message.Data. The Type field picks which of the
// remaining fields apply: "text" parts carry Text/Subtype/Charset, while
// "attachment" parts carry Name/ContentType/ContentB64.
type BodyPart struct {
	Type string `json:"type" validate:"required,oneof=text attachment" jsonschema:"title=Тип блока"`

	// Text part fields.
	Text    string `json:"text,omitempty" validate:"required_if=Type text" jsonschema:"title=Текст блока"`
	Subtype string `json:"subtype,omitempty" jsonschema:"title=MIME-подтип,default=plain"`
	Charset string `json:"charset,omitempty" jsonschema:"title=Кодировка,default=utf-8"`

	// Attachment fields.
	Name        string `json:"name,omitempty" validate:"required_if=Type attachment" jsonschema:"title=Имя файла"`
	ContentType string `json:"content_type,omitempty" validate:"required_if=Type attachment" jsonschema:"title=Тип файла (mime-тип)"`
	ContentB64  string `json:"content_b64,omitempty" validate:"required_if=Type attachment,omitempty,base64" jsonschema:"title=Содержимое файла в base64"`

	// ContentSize is only ever present in API responses, where it replaces
	// the attachment payload.
	ContentSize int64 `json:"content_size,omitempty" jsonschema:"title=Размер файла в байтах [read-only]"`
}

// Defaults holds the configured fallbacks filled into a Message when the
// client leaves the corresponding fields empty.
type Defaults struct {
	Username           string
	SendTimeout        time.Duration
	IgnoreSTARTTLSCert bool
}

// NewGUID returns a fresh message identifier: 32 lowercase hex characters,
// i.e. a v4 UUID without the dashes.
func NewGUID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ApplyDefaults fills the optional fields of m in place. Call this before
// Validate so the sender fields are populated.
func (m *Message) ApplyDefaults(d Defaults) {
	if m.FromUser == "" {
		m.FromUser = d.Username
	}
	if m.FromName == "" {
		m.FromName = capitalize(m.FromUser)
	}
	if m.SendTimeout == 0 {
		m.SendTimeout = int(d.SendTimeout / time.Second)
	}
	if m.IgnoreSTARTTLSCert == nil {
		v := d.IgnoreSTARTTLSCert
		m.IgnoreSTARTTLSCert = &v
	}
	for i := range m.Data {
		if m.Data[i].Type != PartText {
			continue
		}
		if m.Data[i].Subtype == "" {
			m.Data[i].Subtype = "plain"
		}
		if m.Data[i].Charset == "" {
			m.Data[i].Charset = "utf-8"
		}
	}
}

// SendDeadline converts the per-message timeout into a duration.
func (m *Message) SendDeadline() time.Duration {
	return time.Duration(m.SendTimeout) * time.Second
}

// RecipientDomain returns the domain of the recipient address. Call only
// after validation; an address without "@" yields an empty string.
func (m *Message) RecipientDomain() string {
	i := strings.LastIndex(m.AddressTo, "@")
	if i < 0 {
		return ""
	}
	return m.AddressTo[i+1:]
}

// FromAddress assembles the envelope sender from the message's local part
// and the gateway's mail domain.
func (m *Message) FromAddress(domain string) string {
	return m.FromUser + "@" + domain
}

// TextLength sums the length of all inline text parts. Used for the intake
// log line so operators can see roughly how big a message is without us
// logging its content.
func (m *Message) TextLength() int {
	var n int
	for _, p := range m.Data {
		if p.Type == PartText {
			n += len(p.Text)
		}
	}
	return n
}

// Redacted returns a copy of m safe to store and to return from the API:
// attachment payloads are dropped and replaced with their decoded size.
func (m *Message) Redacted() Message {
	c := *m
	c.Data = make([]BodyPart, len(m.Data))
	copy(c.Data, m.Data)
	for i := range c.Data {
		if c.Data[i].Type != PartAttachment {
			continue
		}
		c.Data[i].ContentSize = decodedSize(c.Data[i].ContentB64)
		c.Data[i].ContentB64 = ""
	}
	return c
}

// Content decodes the attachment payload.
func (p *BodyPart) Content() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.ContentB64)
}

func decodedSize(b64 string) int64 {
	n := base64.StdEncoding.DecodedLen(len(b64))
	// DecodedLen assumes maximum padding; count the actual '=' runes so the
	// reported size is exact.
	pad := strings.Count(b64, "=")
	return int64(n - pad)
}

// capitalize mirrors the classic "first letter up, rest down" display-name
// fallback, so "postmaster" becomes "Postmaster".
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

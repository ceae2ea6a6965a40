package message

import (
	"fmt"
	"mime"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// A single validator instance for the package; the library caches struct
// metadata internally, so sharing it is both safe and faster.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields under their wire names so API clients can match errors
	// to the JSON they actually sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError collects everything wrong with a message in one pass, so a
// client gets the full list instead of fixing fields one at a time.
type ValidationError struct {
	// Problems maps one human-readable description per failed check.
	Problems []string
	// Fields lists the wire paths of the offending fields, e.g.
	// "data.0.content_b64".
	Fields []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

func (e *ValidationError) add(field, problem string) {
	if field != "" {
		problem = field + ": " + problem
	}
	e.Problems = append(e.Problems, problem)
	e.Fields = append(e.Fields, field)
}

// Validate checks m after defaults have been applied. The returned error is
// always a *ValidationError when non-nil.
func (m *Message) Validate() error {
	verr := &ValidationError{}

	if err := validate.Struct(m); err != nil {
		ferrs, ok := err.(validator.ValidationErrors)
		if !ok {
			// validator only returns other error types for invalid input
			// values (nil, non-struct), which can't happen here.
			return &ValidationError{Problems: []string{err.Error()}, Fields: []string{""}}
		}
		for _, fe := range ferrs {
			verr.add(wirePath(fe.Namespace()), describe(fe))
		}
	}

	// The validator tags can't express "this must parse as a MIME type", so
	// attachments get one extra pass here.
	for i, p := range m.Data {
		if p.Type != PartAttachment || p.ContentType == "" {
			continue
		}
		if _, _, err := mime.ParseMediaType(p.ContentType); err != nil || !strings.Contains(p.ContentType, "/") {
			verr.add(
				fmt.Sprintf("data.%d.content_type", i),
				fmt.Sprintf("%q is not a valid mime type", p.ContentType),
			)
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// wirePath converts a validator namespace like "Message.data[0].content_b64"
// into the dotted path clients expect: "data.0.content_b64".
func wirePath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	ns = strings.ReplaceAll(ns, "]", "")
	return ns
}

// describe renders a field error without leaking Go struct internals.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "field is required"
	case "email":
		return "value is not a valid email address"
	case "oneof":
		return fmt.Sprintf("value must be one of: %v", fe.Param())
	case "base64":
		return "value is not valid base64"
	case "gt":
		return fmt.Sprintf("value must be greater than %v", fe.Param())
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}

package api

import (
	"github.com/invopop/jsonschema"

	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/tracker"
)

// endpointDoc describes one route in the /docs payload.
type endpointDoc struct {
	Request  interface{} `json:"request"`
	Response interface{} `json:"response"`
	Title    string      `json:"title,omitempty"`
}

// buildDocs reflects the wire types into JSON Schemas. Called once at
// startup; the payload never changes while the process runs.
func buildDocs(conf Config) interface{} {
	reflector := jsonschema.Reflector{}
	msgSchema := reflector.Reflect(&message.Message{})
	recSchema := reflector.Reflect(&tracker.Record{})

	return map[string]interface{}{
		"auth_enabled":      len(conf.AuthTokens) > 0,
		"auth_header":       "Authorization",
		"auth_header_value": "<token>",
		"get": map[string]interface{}{
			"/":               endpointDoc{Response: "text"},
			"/docs":           endpointDoc{Response: "text", Title: "Эта страница =)"},
			"/message/{guid}": endpointDoc{Response: recSchema},
		},
		"post": map[string]interface{}{
			"/message/send*": endpointDoc{Request: msgSchema, Response: recSchema},
		},
	}
}

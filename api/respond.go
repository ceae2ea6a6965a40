package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// errorResponse is the 400 body for rejected requests: one joined
// human-readable string plus the wire paths of the offending fields.
type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// writeJSON sends body as indented JSON with a trailing newline.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	buf, err := json.MarshalIndent(body, "", "    ")
	if err != nil {
		log.Error().Err(err).Msg("can't encode a response body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	buf = append(buf, '\n')

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf); err != nil {
		log.Debug().Err(err).Msg("can't write a response body")
	}
}

// writeText sends a plain-text response.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		log.Debug().Err(err).Msg("can't write a response body")
	}
}

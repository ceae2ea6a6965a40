package tracker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/storage"
)

// States a delivery record moves through. A record starts out sending and
// settles on exactly one of sent or error.
const (
	StateSending = "sending"
	StateSent    = "sent"
	StateError   = "error"
)

// Event is one line in a record's delivery log.
type Event struct {
	TS      int64  `json:"ts"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Record is everything we keep about one accepted message: the message
// itself (with attachment payloads stripped), when it arrived, where the
// delivery stands, and the log of what has happened so far.
type Record struct {
	Message message.Message `json:"message"`
	TsAdded int64           `json:"ts_added"`
	State   string          `json:"state"`
	Events  []Event         `json:"events"`
}

// Tracker keeps delivery records, writing every change through to a
// KeyValue store so the status endpoint still sees them after a restart.
type Tracker struct {
	db storage.KeyValue

	// serializes read-modify-write cycles on records
	mu sync.Mutex
}

// New returns a Tracker backed by db.
func New(db storage.KeyValue) *Tracker {
	return &Tracker{db: db}
}

// Start opens the record for a freshly accepted message in the sending
// state. The stored copy carries the message with attachment payloads
// stripped, since a status endpoint has no use for megabytes of base64.
func (t *Tracker) Start(msg message.Message) Record {
	rec := Record{
		Message: msg.Redacted(),
		TsAdded: time.Now().Unix(),
		State:   StateSending,
		Events:  []Event{},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.put(msg.GUID, rec)
	return rec
}

// Log appends a line to the record's delivery log and echoes it to the
// process log.
func (t *Tracker) Log(guid, source, msg string) {
	log.Info().Str("guid", guid).Str("source", source).Msg(msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.get(guid)
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't load a delivery record to log against")
		return
	}
	rec.Events = append(rec.Events, Event{
		TS:      time.Now().Unix(),
		Source:  source,
		Message: msg,
	})
	t.put(guid, rec)
}

// SetState moves the record for guid to state.
func (t *Tracker) SetState(guid, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.get(guid)
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't load a delivery record to change its state")
		return
	}
	rec.State = state
	t.put(guid, rec)
}

// Get returns the record for guid. The error is storage.ErrNotFound when no
// such record exists.
func (t *Tracker) Get(guid string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(guid)
}

// put marshals and stores rec under guid. Storage trouble is logged rather
// than returned: a delivery must not abort because its paper trail can't be
// written.
func (t *Tracker) put(guid string, rec Record) {
	buf, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't marshal a delivery record")
		return
	}
	if err := t.db.Put(storage.KVEntry{Key: []byte(guid), Value: buf}); err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't store a delivery record")
	}
}

func (t *Tracker) get(guid string) (Record, error) {
	entry, err := t.db.Read([]byte(guid))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return Record{}, fmt.Errorf("can't decode the delivery record for %v: %v", guid, err)
	}
	return rec, nil
}

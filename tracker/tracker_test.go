package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/storage"
)

func newTestTracker() *Tracker {
	return New(storage.NewMemoryDB(&storage.KVConfig{
		KeyTTL: time.Duration(1) * time.Hour,
	}))
}

func testMessage() message.Message {
	return message.Message{
		GUID:      message.NewGUID(),
		FromUser:  "mailserver",
		FromName:  "Mailserver",
		AddressTo: "rcpt@example.net",
		Subject:   "greetings",
		Data: []message.BodyPart{
			{Type: message.PartText, Text: "hello", Subtype: "plain", Charset: "utf-8"},
			{Type: message.PartAttachment, Name: "a.txt", ContentType: "text/plain", ContentB64: "aGVsbG8="},
		},
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := newTestTracker()
	msg := testMessage()

	rec := tr.Start(msg)
	if rec.State != StateSending {
		t.Errorf("expected a fresh record in state %q, got %q", StateSending, rec.State)
	}
	if rec.TsAdded == 0 {
		t.Error("expected the record to carry its intake timestamp")
	}
	if len(rec.Events) != 0 {
		t.Errorf("expected a fresh record with no events, got %v", len(rec.Events))
	}

	tr.Log(msg.GUID, "api", "received")
	tr.Log(msg.GUID, "mailer", "try mx server for send mx.example.net")
	tr.SetState(msg.GUID, StateSent)

	got, err := tr.Get(msg.GUID)
	if err != nil {
		t.Fatalf("expected to load the record back, got error: %v", err)
	}
	if got.State != StateSent {
		t.Errorf("expected state %q, got %q", StateSent, got.State)
	}
	if len(got.Events) != 2 {
		t.Fatalf("expected 2 logged events, got %v", len(got.Events))
	}
	if got.Events[0].Source != "api" || got.Events[0].Message != "received" {
		t.Errorf("unexpected first event: %+v", got.Events[0])
	}
	if got.Events[1].Source != "mailer" {
		t.Errorf("unexpected second event: %+v", got.Events[1])
	}
	if got.Events[0].TS == 0 {
		t.Error("expected events to be timestamped")
	}
}

func TestTrackerRedactsAttachmentPayloads(t *testing.T) {
	tr := newTestTracker()
	msg := testMessage()
	tr.Start(msg)

	got, err := tr.Get(msg.GUID)
	if err != nil {
		t.Fatalf("expected to load the record back, got error: %v", err)
	}

	att := got.Message.Data[1]
	if att.ContentB64 != "" {
		t.Error("expected the stored record not to carry the attachment payload")
	}
	// "aGVsbG8=" is "hello"
	if att.ContentSize != 5 {
		t.Errorf("expected the payload size to replace the payload, got %v", att.ContentSize)
	}
	if got.Message.Data[0].Text != "hello" {
		t.Error("expected text parts to be stored as-is")
	}
}

func TestTrackerGetMissing(t *testing.T) {
	tr := newTestTracker()
	if _, err := tr.Get("0b7793eb8fca4f4e9f61c38530bc8e2c"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound for an unknown guid, got %v", err)
	}
}

func TestTrackerLogOnUnknownGUID(t *testing.T) {
	tr := newTestTracker()
	// Nothing to update; the line still reaches the process log and must
	// not create a phantom record.
	tr.Log("0b7793eb8fca4f4e9f61c38530bc8e2c", "mailer", "orphan line")
	if _, err := tr.Get("0b7793eb8fca4f4e9f61c38530bc8e2c"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected no record to appear, got %v", err)
	}
}

package e2e

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/iaasstore/restmailer/smtptest"
	"github.com/iaasstore/restmailer/tracker"
)

// sendRequest performs one API request against the environment and returns
// the response status and body.
func sendRequest(t *testing.T, te *testEnvironment, method, path, token, body string) (int, string) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, te.HTTPServer.URL+path, rd)
	if err != nil {
		t.Fatalf("can't build the request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("can't reach the test gateway: %v", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("can't read the response body: %v", err)
	}
	return res.StatusCode, string(b)
}

// decodeRecord unmarshals an API response body into a delivery record.
func decodeRecord(t *testing.T, body string) tracker.Record {
	t.Helper()

	var rec tracker.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		t.Fatalf("can't decode the delivery record from %v: %v", body, err)
	}
	return rec
}

// Accept a message over the API, deliver it synchronously, and make sure
// the email that reaches the exchanger matches what the client sent, down
// to the attachment bytes.
func TestGatewayDeliversMailEndToEnd(t *testing.T) {
	te, err := startTestEnvironment(t, testEnvironmentConfig{})
	defer te.tearDown()
	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	attachment := []byte("quarterly report body")
	body := fmt.Sprintf(`{
		"address_to": "recipient@example.net",
		"subject": "end to end",
		"data": [
			{"type": "text", "text": "hello from the e2e suite"},
			{"type": "attachment", "name": "report.txt", "content_type": "text/plain", "content_b64": "%v"}
		]
	}`, base64.StdEncoding.EncodeToString(attachment))

	status, res := sendRequest(t, te, http.MethodPost, "/message/send", "", body)
	if status != http.StatusOK {
		t.Fatalf("expecting status 200 but got %v with body %v", status, res)
	}

	rec := decodeRecord(t, res)
	if rec.State != tracker.StateSent {
		t.Errorf("expecting the record state %v but got %v", tracker.StateSent, rec.State)
	}

	envs := te.SMTPServer.RetrieveEnvelopes(0)
	if len(envs) != 1 {
		t.Fatalf("expecting one email but got %v", len(envs))
	}
	if envs[0].From != "mailserver@sender.example.com" {
		t.Errorf("unexpected envelope sender: %v", envs[0].From)
	}
	if len(envs[0].Recipients) != 1 || envs[0].Recipients[0] != "recipient@example.net" {
		t.Errorf("unexpected envelope recipients: %v", envs[0].Recipients)
	}

	parsed, err := smtptest.ParseEmail(envs[0].Body)
	if err != nil {
		t.Fatalf("can't parse the delivered email: %v", err)
	}

	subj, err := parsed.Header.Subject()
	if err != nil {
		t.Fatalf("can't read the subject of the delivered email: %v", err)
	}
	if subj != "end to end" {
		t.Errorf("expecting the subject %q but got %q", "end to end", subj)
	}

	if len(parsed.Texts) != 1 || !strings.Contains(parsed.Texts[0], "hello from the e2e suite") {
		t.Errorf("unexpected text parts in the delivered email: %v", parsed.Texts)
	}

	if len(parsed.Attachments) != 1 {
		t.Fatalf("expecting one attachment but got %v", len(parsed.Attachments))
	}
	if parsed.Attachments[0].Filename != "report.txt" {
		t.Errorf("unexpected attachment filename: %v", parsed.Attachments[0].Filename)
	}
	if !bytes.Equal(parsed.Attachments[0].Data, attachment) {
		t.Errorf(
			"the delivered attachment doesn't match the original: %q",
			parsed.Attachments[0].Data,
		)
	}

	// The status endpoint serves the record with attachment payloads
	// stripped but their sizes kept.
	status, res = sendRequest(t, te, http.MethodGet, "/message/"+rec.Message.GUID, "", "")
	if status != http.StatusOK {
		t.Fatalf("expecting status 200 from the status endpoint but got %v", status)
	}
	fetched := decodeRecord(t, res)
	if fetched.Message.Data[1].ContentB64 != "" {
		t.Error("the stored record must not carry attachment content")
	}
	if fetched.Message.Data[1].ContentSize != int64(len(attachment)) {
		t.Errorf(
			"expecting the stored attachment size %v but got %v",
			len(attachment),
			fetched.Message.Data[1].ContentSize,
		)
	}

	var upgraded bool
	for _, e := range fetched.Events {
		if strings.Contains(e.Message, "connection upgraded to tls") {
			upgraded = true
		}
	}
	if !upgraded {
		t.Error("expecting a STARTTLS upgrade event in the delivery log")
	}
}

// The async endpoint answers before the delivery happens; the record should
// move to sent on its own while the client polls.
func TestGatewayAsyncDelivery(t *testing.T) {
	te, err := startTestEnvironment(t, testEnvironmentConfig{})
	defer te.tearDown()
	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	body := `{"address_to": "recipient@example.net", "subject": "async", "data": [{"type": "text", "text": "later"}]}`

	status, res := sendRequest(t, te, http.MethodPost, "/message/async-send", "", body)
	if status != http.StatusOK {
		t.Fatalf("expecting status 200 but got %v with body %v", status, res)
	}
	rec := decodeRecord(t, res)
	if rec.State != tracker.StateSending {
		t.Errorf("expecting the record state %v but got %v", tracker.StateSending, rec.State)
	}

	// Poll the status endpoint the way an API client would.
	deadline := time.Now().Add(time.Duration(10) * time.Second)
	for {
		status, res = sendRequest(t, te, http.MethodGet, "/message/"+rec.Message.GUID, "", "")
		if status != http.StatusOK {
			t.Fatalf("expecting status 200 from the status endpoint but got %v", status)
		}
		got := decodeRecord(t, res)
		if got.State == tracker.StateSent {
			break
		}
		if got.State == tracker.StateError {
			t.Fatalf("the delivery failed: %+v", got.Events)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the delivery, last state %v", got.State)
		}
		time.Sleep(time.Duration(50) * time.Millisecond)
	}

	ems, err := te.SMTPServer.RetrieveEmails(0)
	if err != nil {
		t.Errorf("can't retrieve email from the test SMTP server: %v", err)
	}
	if len(ems) != 1 {
		t.Errorf("expecting one email but got %v", len(ems))
	}
}

// With tokens configured, requests without a valid Authorization header
// must be refused before any mail moves.
func TestGatewayEnforcesAuthTokens(t *testing.T) {
	te, err := startTestEnvironment(t, testEnvironmentConfig{
		authTokens: []string{"first-token", "second-token"},
	})
	defer te.tearDown()
	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	body := `{"address_to": "recipient@example.net", "subject": "auth", "data": [{"type": "text", "text": "guarded"}]}`

	status, res := sendRequest(t, te, http.MethodPost, "/message/send", "", body)
	if status != http.StatusUnauthorized {
		t.Errorf("expecting status 401 without a token but got %v", status)
	}
	if res != "Unauthorized" {
		t.Errorf("unexpected 401 body: %q", res)
	}

	ems, err := te.SMTPServer.RetrieveEmails(0)
	if err != nil {
		t.Errorf("can't retrieve email from the test SMTP server: %v", err)
	}
	if len(ems) != 0 {
		t.Fatalf("expecting zero emails without a token but got %v", len(ems))
	}

	status, _ = sendRequest(t, te, http.MethodPost, "/message/send", "second-token", body)
	if status != http.StatusOK {
		t.Errorf("expecting status 200 with a valid token but got %v", status)
	}

	ems, err = te.SMTPServer.RetrieveEmails(0)
	if err != nil {
		t.Errorf("can't retrieve email from the test SMTP server: %v", err)
	}
	if len(ems) != 1 {
		t.Errorf("expecting one email with a valid token but got %v", len(ems))
	}
}

// A permanent rejection from the exchanger should surface as a teapot
// response with the rejection in the delivery log.
func TestGatewayReportsBouncedMail(t *testing.T) {
	te, err := startTestEnvironment(t, testEnvironmentConfig{})
	defer te.tearDown()
	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	te.SMTPServer.RejectRcpt(550, "no such user")

	body := `{"address_to": "nobody@example.net", "subject": "bounce", "data": [{"type": "text", "text": "hello?"}]}`

	status, res := sendRequest(t, te, http.MethodPost, "/message/send", "", body)
	if status != http.StatusTeapot {
		t.Errorf("expecting status %v for a failed delivery but got %v", http.StatusTeapot, status)
	}

	rec := decodeRecord(t, res)
	if rec.State != tracker.StateError {
		t.Errorf("expecting the record state %v but got %v", tracker.StateError, rec.State)
	}

	var bounced bool
	for _, e := range rec.Events {
		if strings.Contains(e.Message, "mail have some errors on send") {
			bounced = true
		}
	}
	if !bounced {
		t.Errorf("expecting a rejection event in the delivery log: %+v", rec.Events)
	}
}

// Delivery records written to a runtime directory should still be served
// after the whole gateway goes down and comes back.
func TestDeliveryRecordsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	te, err := startTestEnvironment(t, testEnvironmentConfig{runtimeDir: dir})
	if err != nil {
		te.tearDown()
		t.Fatalf("error starting test environment: %v", err)
	}

	body := `{"address_to": "recipient@example.net", "subject": "durable", "data": [{"type": "text", "text": "remember me"}]}`

	status, res := sendRequest(t, te, http.MethodPost, "/message/send", "", body)
	if status != http.StatusOK {
		te.tearDown()
		t.Fatalf("expecting status 200 but got %v with body %v", status, res)
	}
	rec := decodeRecord(t, res)

	te.tearDown()

	te2, err := startTestEnvironment(t, testEnvironmentConfig{runtimeDir: dir})
	defer te2.tearDown()
	if err != nil {
		t.Fatalf("error restarting test environment: %v", err)
	}

	status, res = sendRequest(t, te2, http.MethodGet, "/message/"+rec.Message.GUID, "", "")
	if status != http.StatusOK {
		t.Fatalf("expecting the record to survive the restart but got status %v", status)
	}

	got := decodeRecord(t, res)
	if got.State != tracker.StateSent {
		t.Errorf("expecting the record state %v after the restart but got %v", tracker.StateSent, got.State)
	}
	if len(got.Events) == 0 {
		t.Error("expecting the delivery log to survive the restart")
	}
}

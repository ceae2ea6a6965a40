package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/iaasstore/restmailer/api"
	"github.com/iaasstore/restmailer/mailer"
	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/mx"
	"github.com/iaasstore/restmailer/smtptest"
	"github.com/iaasstore/restmailer/storage"
	"github.com/iaasstore/restmailer/tracker"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	// Authorization header values the API requires. Empty leaves the API
	// open, matching the default configuration.
	authTokens []string
	// Non-empty pins delivery records to a Badger directory that outlives
	// the environment. The caller owns the directory.
	runtimeDir string
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	HTTPServer *httptest.Server
	SMTPServer *smtptest.InProcessServer
	Records    *tracker.Tracker

	db         storage.KeyValue
	dispatcher *mailer.Dispatcher
	cancel     context.CancelFunc
}

// startTestEnvironment assembles the whole gateway in-process, wired the
// same way main.go wires it, with every recipient domain resolving to the
// in-process SMTP server. Callers should defer a call to tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{}

	key, cert, err := smtptest.GenerateTLSFiles(t)
	if err != nil {
		return te, err
	}

	ts, err := smtptest.NewInProcessServer(key, cert)
	if err != nil {
		return te, fmt.Errorf("can't set up the test SMTP server: %v", err)
	}
	te.SMTPServer = ts

	go ts.Start()

	meta, err := createUserConfig(appConfigOptions{
		AuthTokens: c.authTokens,
		RuntimeDir: c.runtimeDir,
	})
	if err != nil {
		return te, err
	}

	if meta.Runtime.Dir != "" {
		bdb, err := storage.NewBadgerDB(&meta.Runtime)
		if err != nil {
			return te, fmt.Errorf("can't open the delivery record store: %v", err)
		}
		te.db = bdb
	} else {
		te.db = storage.NewMemoryDB(&meta.Runtime)
	}

	te.Records = tracker.New(te.db)

	d, err := mailer.NewDeliverer(meta.Mail, te.Records)
	if err != nil {
		return te, err
	}
	d.Resolver = &mx.Static{Hosts: []string{ts.Address()}}

	ctx, cancel := context.WithCancel(context.Background())
	te.cancel = cancel
	te.dispatcher = mailer.NewDispatcher(ctx, d, meta.Mail.MaxConcurrent)

	srv := api.NewServer(meta.HTTP, message.Defaults{
		Username:           meta.Mail.DefUsername,
		SendTimeout:        meta.Mail.SendTimeout,
		IgnoreSTARTTLSCert: meta.Mail.IgnoreSTARTTLSCert,
	}, te.dispatcher, te.Records)

	te.HTTPServer = httptest.NewServer(srv.Routes())

	return te, nil
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.HTTPServer != nil {
		te.HTTPServer.Close()
	}

	// Let background deliveries settle before pulling the store out from
	// under them.
	if te.dispatcher != nil {
		te.dispatcher.Wait()
	}

	if te.cancel != nil {
		te.cancel()
	}

	if te.db != nil {
		// We're not expecting this to return an error since it's designed to
		// call with defer. Instead we panic, and hopefully we can prevent any
		// panic-causing error from happening again.
		if err := te.db.Close(); err != nil {
			panic(fmt.Sprintf("can't close the delivery record store: %v", err))
		}
	}

	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}
}

package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/iaasstore/restmailer/dkim"
	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/mx"
	"github.com/iaasstore/restmailer/smtpclient"
	"github.com/iaasstore/restmailer/tracker"
)

// Deliverer pushes messages out to recipient mail servers. Use NewDeliverer
// for the production wiring; tests fill the fields directly to pin the
// resolver or dialer.
type Deliverer struct {
	Conf     Config
	Resolver mx.Resolver
	Dialer   smtpclient.ContextDialer
	// Signer is nil when DKIM is not configured.
	Signer  *dkim.Signer
	Tracker *tracker.Tracker
}

// NewDeliverer wires a Deliverer from a validated Config. The DKIM key and
// proxy URL were already probed by CheckAndSetDefaults, so errors here mean
// the environment changed in between.
func NewDeliverer(conf Config, tr *tracker.Tracker) (*Deliverer, error) {
	dialer, err := smtpclient.NewDialer(conf.Proxy, conf.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("can't set up the SMTP dialer: %v", err)
	}

	var signer *dkim.Signer
	if conf.DKIMKeyPath != "" {
		signer, err = dkim.NewFromFile(conf.Domain, conf.DKIMSelector, conf.DKIMKeyPath)
		if err != nil {
			return nil, fmt.Errorf("can't set up DKIM signing: %v", err)
		}
	}

	return &Deliverer{
		Conf:     conf,
		Resolver: &mx.GoogleDoH{},
		Dialer:   dialer,
		Signer:   signer,
		Tracker:  tr,
	}, nil
}

// Deliver pushes one message out, trying the recipient domain's mail
// exchangers in preference order until one accepts it. It reports whether
// the message was handed over, and leaves the delivery record in the sent
// or error state accordingly. The message's send timeout caps the whole
// delivery, MX resolution included.
func (d *Deliverer) Deliver(ctx context.Context, msg message.Message) bool {
	timer := prometheus.NewTimer(deliveryDuration)
	defer timer.ObserveDuration()

	if t := msg.SendDeadline(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	guid := msg.GUID
	domain := msg.RecipientDomain()

	hosts, err := d.Resolver.Lookup(ctx, domain)
	if err != nil {
		log.Debug().Err(err).Str("guid", guid).Msg("mx lookup failed")
	}
	if len(hosts) == 0 {
		d.Tracker.Log(guid, "mailer", fmt.Sprintf("cannot get mx servers for: %v", domain))
		return d.finish(guid, false)
	}

	d.Tracker.Log(guid, "mailer",
		fmt.Sprintf("mx servers for target_address: %v", strings.Join(hosts, ", ")))

	raw, err := d.buildMessage(msg)
	if err != nil {
		d.Tracker.Log(guid, "mailer", fmt.Sprintf("cannot build mime message: %v", err))
		return d.finish(guid, false)
	}

	sent := false
	for _, host := range hosts {
		d.Tracker.Log(guid, "mailer", fmt.Sprintf("try mx server for send %v", host))

		ok, tryNext := d.attempt(ctx, msg, host, raw)
		if ok {
			sent = true
			break
		}
		if !tryNext {
			break
		}
	}

	if !sent {
		d.Tracker.Log(guid, "mailer", "cannot send message: all mx servers are down")
	}
	return d.finish(guid, sent)
}

// finish settles the record state and the delivery metrics in one place.
func (d *Deliverer) finish(guid string, sent bool) bool {
	if sent {
		d.Tracker.SetState(guid, tracker.StateSent)
		deliveriesTotal.WithLabelValues("sent").Inc()
	} else {
		d.Tracker.SetState(guid, tracker.StateError)
		deliveriesTotal.WithLabelValues("error").Inc()
	}
	return sent
}

// buildMessage renders msg to wire bytes and signs them when DKIM is
// configured. A signing failure downgrades the message to unsigned instead
// of failing the delivery.
func (d *Deliverer) buildMessage(msg message.Message) ([]byte, error) {
	raw, err := buildMIME(d.Conf, msg)
	if err != nil {
		return nil, err
	}
	if d.Signer == nil {
		return raw, nil
	}

	signed, err := d.Signer.Sign(raw)
	if err != nil {
		d.Tracker.Log(msg.GUID, "mailer-dkim", fmt.Sprintf("sign generation error: %v", err))
		return raw, nil
	}
	d.Tracker.Log(msg.GUID, "mailer-dkim",
		fmt.Sprintf("sign generated, length=%v", len(signed)-len(raw)))
	return signed, nil
}

// attempt makes one delivery attempt against host. The second return value
// reports whether the next exchanger is worth trying: a refused connection
// or a broken TLS upgrade might go better elsewhere, while a 5xx rejection
// of the message itself won't.
func (d *Deliverer) attempt(ctx context.Context, msg message.Message, host string, raw []byte) (sent, tryNext bool) {
	guid := msg.GUID

	// Resolved MX hosts come bare; an explicitly pinned host may bring its
	// own port.
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(d.Conf.SMTPPort))
	}

	if d.Conf.Proxy != "" {
		d.Tracker.Log(guid, "smtp",
			fmt.Sprintf("[%v] using proxy from configuration for smtp connection", host))
	}

	s, err := smtpclient.Open(ctx, d.Dialer, addr, d.Conf.ServerName)
	if err != nil {
		d.Tracker.Log(guid, "smtp", fmt.Sprintf("[%v] cannot connect to mx server: %v", host, err))
		return false, true
	}
	defer s.Close()

	if s.TLSAvailable() {
		d.Tracker.Log(guid, "smtp-tls", fmt.Sprintf("[%v] STARTTLS is available, trying upgrade", host))

		tlsConf := &tls.Config{}
		if msg.IgnoreSTARTTLSCert != nil && *msg.IgnoreSTARTTLSCert {
			tlsConf.InsecureSkipVerify = true
		}
		if err := s.StartTLS(tlsConf); err != nil {
			d.Tracker.Log(guid, "smtp-tls", fmt.Sprintf("[%v] exception on tls upgrade: %v", host, err))
			return false, true
		}
		d.Tracker.Log(guid, "smtp-tls", fmt.Sprintf("[%v] connection upgraded to tls", host))
	}

	if err := s.Send(msg.FromAddress(d.Conf.Domain), msg.AddressTo, raw); err != nil {
		if smtpclient.Permanent(err) {
			d.Tracker.Log(guid, "smtp", fmt.Sprintf("[%v] mail have some errors on send: %v", host, err))
			return false, false
		}
		d.Tracker.Log(guid, "smtp", fmt.Sprintf("[%v] send mail error: %v", host, err))
		return false, true
	}

	if err := s.Quit(); err != nil {
		// The server already took the message; a failed QUIT is noise.
		log.Debug().Err(err).Str("guid", guid).Msg("QUIT after a successful delivery failed")
	}

	d.Tracker.Log(guid, "smtp", fmt.Sprintf("[%v] mail sent successfully", host))
	return true, false
}

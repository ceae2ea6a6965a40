package mx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// googleEndpoint is the JSON API of Google Public DNS.
// https://developers.google.com/speed/public-dns/docs/doh/json
const googleEndpoint = "https://dns.google/resolve"

// dnsTypeMX is the RR type we ask for and the only one we accept back.
const dnsTypeMX = 15

// Resolver returns the SMTP hosts serving a domain, most preferred first.
type Resolver interface {
	Lookup(ctx context.Context, domain string) ([]string, error)
}

// GoogleDoH implements Resolver against the Google Public DNS JSON API.
// The zero value is usable; Endpoint and Client exist so tests can point
// lookups at a local server.
type GoogleDoH struct {
	Endpoint string
	Client   *http.Client
}

// dohResponse is the slice of the JSON API answer we care about.
type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// mxRecord is one parsed answer, kept around long enough to sort.
type mxRecord struct {
	preference int
	host       string
}

// Lookup queries MX records for domain. The hosts come back sorted by
// preference with trailing dots stripped, ready to dial.
func (g *GoogleDoH) Lookup(ctx context.Context, domain string) ([]string, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = googleEndpoint
	}
	client := g.Client
	if client == nil {
		// The caller's context carries the real deadline; this is a
		// failsafe so a wedged resolver can't hold a delivery forever.
		client = &http.Client{Timeout: time.Duration(10) * time.Second}
	}

	args := url.Values{}
	args.Set("name", domain)
	args.Set("type", "MX")
	args.Set("ct", "application/x-javascript")
	args.Set("edns_client_subnet", "0.0.0.0/0")
	args.Set("cd", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+args.Encode(), nil)
	if err != nil {
		return nil, err
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("can't reach the DNS resolver: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("the DNS resolver answered %v", res.Status)
	}

	var body dohResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("can't parse the DNS resolver answer: %v", err)
	}

	// Status is a DNS RCODE; anything but NOERROR means the query itself
	// failed (NXDOMAIN, SERVFAIL, ...).
	if body.Status != 0 {
		return nil, fmt.Errorf("DNS query for %v failed with status %v", domain, body.Status)
	}

	records := make([]mxRecord, 0, len(body.Answer))
	for _, a := range body.Answer {
		if a.Type != dnsTypeMX {
			// CNAME chains and the like ride along in the answer section,
			// so filter by type rather than trusting the section.
			continue
		}
		records = append(records, parseMXData(strings.TrimSuffix(a.Data, ".")))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].preference < records[j].preference
	})

	hosts := make([]string, 0, len(records))
	for _, r := range records {
		if r.host == "" {
			// A bare "." answer is a null MX (RFC 7505): the domain
			// explicitly accepts no mail.
			continue
		}
		hosts = append(hosts, r.host)
	}

	return hosts, nil
}

// parseMXData splits the "<preference> <host>" record data. Records that
// don't match the expected shape are treated as a host with preference 0
// rather than dropped.
func parseMXData(data string) mxRecord {
	pref, host, found := strings.Cut(data, " ")
	if !found {
		return mxRecord{host: data}
	}
	n, err := strconv.Atoi(pref)
	if err != nil {
		return mxRecord{host: data}
	}
	return mxRecord{preference: n, host: host}
}

// Static implements Resolver with a fixed host list, serving the tests and
// setups that pin a smarthost instead of resolving recipients.
type Static struct {
	Hosts []string
}

// Lookup returns the configured hosts for any domain.
func (s *Static) Lookup(_ context.Context, _ string) ([]string, error) {
	return s.Hosts, nil
}

package smtpclient

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ContextDialer opens TCP connections for SMTP sessions. *net.Dialer
// satisfies it for the direct case; NewDialer returns proxied variants.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer returns a dialer that reaches mail servers directly when
// proxyURL is empty, or through the proxy it names. Supported schemes are
// socks5:// and http://; credentials come from the URL's userinfo part.
// connectTimeout bounds each connection attempt on top of whatever deadline
// the dialing context carries.
func NewDialer(proxyURL string, connectTimeout time.Duration) (ContextDialer, error) {
	direct := &net.Dialer{Timeout: connectTimeout}
	if proxyURL == "" {
		return direct, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("can't parse the proxy URL: %v", err)
	}

	switch u.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pw}
		}
		d, err := proxy.SOCKS5("tcp", hostPort(u, "1080"), auth, direct)
		if err != nil {
			return nil, fmt.Errorf("can't set up the socks5 proxy: %v", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("the socks5 dialer doesn't support contexts")
		}
		return cd, nil
	case "http":
		d := &httpConnectDialer{addr: hostPort(u, "8080"), forward: direct}
		if u.User != nil {
			pw, _ := u.User.Password()
			creds := u.User.Username() + ":" + pw
			d.authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
		}
		return d, nil
	case "socks4":
		return nil, fmt.Errorf("socks4 proxies are not supported, use socks5 or http")
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

// hostPort fills in the conventional port for the proxy's protocol when the
// URL leaves it out.
func hostPort(u *url.URL, defaultPort string) string {
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// httpConnectDialer tunnels TCP through an HTTP proxy with a CONNECT
// request.
type httpConnectDialer struct {
	addr          string
	authorization string
	forward       *net.Dialer
}

func (d *httpConnectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.forward.DialContext(ctx, network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("can't connect to the proxy at %v: %v", d.addr, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.authorization != "" {
		req.Header.Set("Proxy-Authorization", d.authorization)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("can't send CONNECT to the proxy: %v", err)
	}

	// The server's SMTP greeting can arrive right on the heels of the
	// proxy's response, so all reads from here on go through the same
	// buffer.
	br := bufio.NewReader(conn)
	res, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("can't read the proxy's CONNECT response: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("the proxy refused the tunnel: %v", res.Status)
	}

	// Clear the CONNECT deadline; the SMTP session sets its own.
	conn.SetDeadline(time.Time{})

	return &bufferedConn{Conn: conn, r: br}, nil
}

// bufferedConn serves reads through the bufio.Reader that may have consumed
// bytes past the end of the proxy's response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

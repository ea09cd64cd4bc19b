// Package vapix implements the single-device VAPIX client:
// authenticated HTTP CGI calls with digest auth, bounded retries, and
// per-call response classification. The digest challenge/response is
// handled by icholy/digest's Transport, wrapped around a shared base
// transport so the TLS settings apply to every request.
package vapix

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camprovision/internal/config"
)

// Client talks to one device at one address with one set of credentials.
// Nothing here is shared across devices: the orchestrator constructs one
// Client per device, per the Design Notes' rejection of ambient globals.
type Client struct {
	Address      net.IP
	Credentials  config.Credentials
	Transport    config.Transport
	Timeout      time.Duration
	RetryCount   int
	RetrySpacing time.Duration

	// Port overrides the transport's default port when nonzero. Real
	// devices answer on 80/443; the hermetic test harness answers on
	// whatever port its stub listener was handed.
	Port int

	log *zap.SugaredLogger

	plain  *http.Client
	digest func(user, pass string) *http.Client
}

// DefaultTimeout, DefaultRetryCount, and DefaultRetrySpacing are the
// timing defaults every call starts from: ~10s per request, 3 retries,
// ~2s apart.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultRetryCount   = 3
	DefaultRetrySpacing = 2 * time.Second
)

// New builds a Client. TLS verification is disabled unconditionally:
// self-signed device certificates are the norm on a provisioning
// segment, and every request this client makes stays on that segment.
func New(addr net.IP, creds config.Credentials, transport config.Transport, log *zap.SugaredLogger) *Client {
	tlsConfig := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // provisioning-segment cameras use self-signed certs

	plainTransport := &http.Transport{TLSClientConfig: tlsConfig}

	c := &Client{
		Address:      addr,
		Credentials:  creds,
		Transport:    transport,
		Timeout:      DefaultTimeout,
		RetryCount:   DefaultRetryCount,
		RetrySpacing: DefaultRetrySpacing,
		log:          log,
		plain:        &http.Client{Transport: plainTransport},
		digest: func(user, pass string) *http.Client {
			return &http.Client{Transport: &digest.Transport{
				Username:  user,
				Password:  pass,
				Transport: plainTransport,
			}}
		},
	}
	return c
}

func (c *Client) scheme() string {
	if c.Transport == config.TransportTLS {
		return "https"
	}
	return "http"
}

// url builds the device URL for path with the given query values.
func (c *Client) url(path string, query url.Values) string {
	host := c.Address.String()
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", host, c.Port)
	}
	u := url.URL{
		Scheme:   c.scheme(),
		Host:     host,
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// result is what a call classifier hands back to the retry loop.
type result struct {
	outcome outcome
	message string
	err     error
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomeTerminal
)

// classifier inspects one HTTP round trip's outcome and returns what the
// retry loop should do next. It is a pure function of the response (and any
// transport error), per the Design Notes.
type classifier func(status int, body []byte, header http.Header, transportErr error) result

// doRequest issues req, using digest auth when auth is true, and returns
// the raw status/body/header plus any transport-level error.
func (c *Client) doRequest(ctx context.Context, req *http.Request, auth bool) (int, []byte, http.Header, error) {
	req = req.WithContext(ctx)

	client := c.plain
	if auth {
		client = c.digest(rootUsername(req), c.Credentials.RootPassword)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

// rootUsername exists so call sites don't each have to spell out "root";
// the device admin account is always root.
func rootUsername(*http.Request) string { return "root" }

// attempt runs the standard retry loop against a request-building func, using
// classify to interpret each response. It returns (true, message) on
// success (including recognized-idempotent outcomes, which are normalized
// to success), or (false, message) on exhausted retries or a terminal
// failure.
func (c *Client) attempt(ctx context.Context, auth bool, buildReq func() (*http.Request, error), classify classifier) (bool, string) {
	ok, msg, _ := c.attemptErr(ctx, auth, buildReq, classify)
	return ok, msg
}

// attemptErr is attempt plus the underlying sentinel error (ErrAuth,
// ErrTransport, ErrProtocol, ErrDeviceState), so call sites that need to
// branch on the failure kind - rather than just log it - don't have to
// parse the message string back apart.
func (c *Client) attemptErr(ctx context.Context, auth bool, buildReq func() (*http.Request, error), classify classifier) (bool, string, error) {
	var lastErr error
	var lastMsg string
	retried := 0

	for n := 1; n <= c.RetryCount; n++ {
		req, err := buildReq()
		if err != nil {
			return false, err.Error(), err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		status, body, header, transportErr := c.doRequest(reqCtx, req, auth)
		cancel()

		r := classify(status, body, header, transportErr)
		switch r.outcome {
		case outcomeSuccess:
			if retried > 0 {
				return true, fmt.Sprintf("%s (after %d attempts)", r.message, n), nil
			}
			return true, r.message, nil
		case outcomeTerminal:
			return false, r.message, r.err
		case outcomeTransient:
			lastErr = r.err
			lastMsg = r.message
			retried++
			c.log.Debugw("transient failure, will retry",
				"path", req.URL.Path, "attempt", n, "error", r.message)
			if n < c.RetryCount {
				select {
				case <-ctx.Done():
					return false, ctx.Err().Error(), ctx.Err()
				case <-time.After(c.RetrySpacing):
				}
			}
		}
	}

	if lastErr != nil {
		return false, fmt.Sprintf("after %d attempts: %v", c.RetryCount, lastErr), lastErr
	}
	return false, fmt.Sprintf("after %d attempts: %s", c.RetryCount, lastMsg), ErrTransport
}

// classifyTransient is shared by every call: connection errors, timeouts,
// and 5xx are transient; everything else falls through to the caller's own
// classification.
func classifyTransient(status int, transportErr error) (result, bool) {
	if transportErr != nil {
		return result{outcome: outcomeTransient, message: transportErr.Error(), err: errors.Wrap(ErrTransport, transportErr.Error())}, true
	}
	if status >= 500 {
		return result{outcome: outcomeTransient, message: fmt.Sprintf("server error %d", status), err: errors.Wrapf(ErrTransport, "status %d", status)}, true
	}
	return result{}, false
}

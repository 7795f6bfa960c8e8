// Package httputil wraps net/http with the sending conventions used
// throughout the engine: functional send options, retryable errors, and a
// StatusError that callers can type-assert on instead of parsing strings.
package httputil

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// StatusError occurs when a request succeeds but the response status code
// is not among the accepted codes.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf(
		"%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.ResponseDump)
}

// NetworkError occurs when a request fails to reach its destination at all,
// as opposed to reaching it and getting an unexpected status.
type NetworkError struct {
	message string
}

func (e NetworkError) Error() string {
	return e.message
}

// IsNetworkError returns whether err is a NetworkError.
func IsNetworkError(err error) bool {
	_, ok := err.(NetworkError)
	return ok
}

// IsStatus returns whether err is a StatusError with the given status code.
func IsStatus(err error, status int) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == status
}

// IsNotFound returns whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

type sendOptions struct {
	body          io.Reader
	timeout       time.Duration
	acceptedCodes map[int]bool
	headers       map[string]string
	transport     http.RoundTripper
	tls           *tls.Config
	retryBackoff  backoff.BackOff
	retryCodes    map[int]bool
}

// SendOption configures a Send call.
type SendOption func(*sendOptions)

// SendBody sets an io.Reader as the request body.
func SendBody(body io.Reader) SendOption {
	return func(o *sendOptions) { o.body = body }
}

// SendTimeout sets the request timeout. Default is 60 seconds.
func SendTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = timeout }
}

// SendAcceptedCodes adds status codes which will not result in a StatusError.
// 200 is accepted by default.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendHeaders adds headers to the outgoing request.
func SendHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// SendTransport overrides the http.RoundTripper used to send the request.
func SendTransport(t http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

// SendTLS configures the TLS transport used to send the request.
func SendTLS(c *tls.Config) SendOption {
	return func(o *sendOptions) { o.tls = c }
}

// SendRetry enables retries using backoff b on network errors and 5XX
// responses.
func SendRetry(b backoff.BackOff, codes ...int) SendOption {
	return func(o *sendOptions) {
		o.retryBackoff = b
		for _, c := range codes {
			o.retryCodes[c] = true
		}
	}
}

func newSendOptions() *sendOptions {
	return &sendOptions{
		timeout:       60 * time.Second,
		acceptedCodes: map[int]bool{http.StatusOK: true},
		headers:       make(map[string]string),
		retryCodes:    make(map[int]bool),
	}
}

func (o *sendOptions) client() *http.Client {
	transport := o.transport
	if transport == nil && o.tls != nil {
		transport = &http.Transport{TLSClientConfig: o.tls}
	}
	return &http.Client{Timeout: o.timeout, Transport: transport}
}

func send(method, url string, opts ...SendOption) (*http.Response, error) {
	o := newSendOptions()
	for _, opt := range opts {
		opt(o)
	}

	var bodyBytes []byte
	if o.body != nil {
		b, err := io.ReadAll(o.body)
		if err != nil {
			return nil, fmt.Errorf("read body: %s", err)
		}
		bodyBytes = b
	}

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequest(method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err = o.client().Do(req)
		if err != nil {
			return NetworkError{message: fmt.Sprintf("%s %s: %s", method, url, err)}
		}
		if o.acceptedCodes[resp.StatusCode] {
			return nil
		}
		dump, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := StatusError{Method: method, URL: url, Status: resp.StatusCode, ResponseDump: string(dump)}
		if o.retryCodes[resp.StatusCode] || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	if o.retryBackoff == nil {
		if err := op(); err != nil {
			if perm, ok := err.(*backoff.PermanentError); ok {
				return nil, perm.Err
			}
			return nil, err
		}
		return resp, nil
	}

	if err := backoff.Retry(op, o.retryBackoff); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, err
	}
	return resp, nil
}

// Get sends a GET request.
func Get(url string, opts ...SendOption) (*http.Response, error) {
	return send("GET", url, opts...)
}

// Post sends a POST request.
func Post(url string, opts ...SendOption) (*http.Response, error) {
	return send("POST", url, opts...)
}

// Put sends a PUT request.
func Put(url string, opts ...SendOption) (*http.Response, error) {
	return send("PUT", url, opts...)
}

// Delete sends a DELETE request.
func Delete(url string, opts ...SendOption) (*http.Response, error) {
	return send("DELETE", url, opts...)
}

// Patch sends a PATCH request.
func Patch(url string, opts ...SendOption) (*http.Response, error) {
	return send("PATCH", url, opts...)
}

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"
)

// TokenHeader carries the device token, empty when the device has none
const TokenHeader = "Token"

// Request is one round trip to a device
type Request struct {
	URL        string
	Method     string // GET when empty
	Body       string
	Token      string
	ReturnBody bool
}

// Response holds the status and, when asked for, the body
type Response struct {
	StatusCode int
	Body       []byte
}

// FetchError wraps every transport-level failure and, when a body was requested, non-2xx answers
type FetchError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher is what the resolver and the pollers need
type Fetcher interface {
	Fetch(ctx context.Context, r Request) (*Response, error)
}

// Client is the only way out to the devices. Nothing is cached.
type Client struct {
	http *http.Client
}

// NewClient builds a client with the given per-request timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// few devices, small idle pool
	tr := &http.Transport{
		MaxIdleConns:    5,
		IdleConnTimeout: 30 * time.Second,
	}
	return &Client{http: &http.Client{Transport: tr, Timeout: timeout}}
}

// Fetch performs the request
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, &FetchError{Method: method, URL: r.URL, Err: err}
	}
	req.Header.Set(TokenHeader, r.Token)
	req.Header.Set("Cache-Control", "no-cache")
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Method: method, URL: r.URL, Err: err}
	}
	defer resp.Body.Close()

	res := &Response{StatusCode: resp.StatusCode}
	if !r.ReturnBody {
		io.Copy(ioutil.Discard, resp.Body)
		return res, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(ioutil.Discard, resp.Body)
		return nil, &FetchError{Method: method, URL: r.URL, StatusCode: resp.StatusCode}
	}
	res.Body, err = ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Method: method, URL: r.URL, StatusCode: resp.StatusCode, Err: err}
	}
	return res, nil
}

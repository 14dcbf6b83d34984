// Package transport builds the retrying HTTP client shared by the API clients.
package transport

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultRetryMax = 5

type Options struct {
	InsecureSkipVerify bool
	RetryMax           int
	Logger             hclog.Logger
}

// NewPooledClient returns a plain cleanhttp client, for libraries that bring their own retries.
func NewPooledClient(opts Options) *http.Client {
	pooled := cleanhttp.DefaultPooledTransport()
	if opts.InsecureSkipVerify {
		pooled.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Transport: pooled}
}

// NewClient returns a standard *http.Client backed by go-retryablehttp over a pooled
// cleanhttp transport.
func NewClient(opts Options) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = NewPooledClient(opts)
	retryClient.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		retryClient.RetryMax = opts.RetryMax
	}
	if opts.Logger != nil {
		retryClient.Logger = opts.Logger.Named("http")
	} else {
		retryClient.Logger = nil
	}

	return retryClient.StandardClient()
}

// UnmarshalResp reads and decodes a JSON response body into model, then restores the body so
// that callers may read it again.
func UnmarshalResp(resp *http.Response, model interface{}) error {
	if resp == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("parsing response body: %+v", err)
	}
	_ = resp.Body.Close()

	// Trim away a BOM if present
	respBody = bytes.TrimPrefix(respBody, []byte("\xef\xbb\xbf"))

	// Reassign the response body as downstream code may expect it
	resp.Body = io.NopCloser(bytes.NewBuffer(respBody))

	// In some cases the respBody is empty, but not nil, so don't attempt to unmarshal this
	if len(respBody) == 0 || model == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, model); err != nil {
		return fmt.Errorf("unmarshaling response body: %+v", err)
	}

	return nil
}

// ReadBody drains and returns the response body as text, restoring it afterwards.
func ReadBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewBuffer(body))
	return string(body)
}

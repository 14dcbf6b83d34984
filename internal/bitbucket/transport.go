package bitbucket

import "net/http"

var _ http.RoundTripper = &serverTransport{}

// serverTransport authenticates every request and disables the XSRF check that Bitbucket
// Server applies to non-browser writes.
type serverTransport struct {
	base  http.RoundTripper
	user  string
	token string
}

func (s *serverTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req != nil && req.URL != nil {
		req = req.Clone(req.Context())
		req.SetBasicAuth(s.user, s.token)
		req.Header.Set("X-Atlassian-Token", "no-check")
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
	}
	return s.base.RoundTrip(req)
}

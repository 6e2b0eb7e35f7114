package main

import "net/http"

// bearerTransport adds the API token to outgoing requests. Queued
// mutations are stored without credentials, so replays pick the token
// up here as well.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token == "" || req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+t.token)

	return t.base.RoundTrip(out)
}

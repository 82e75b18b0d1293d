package gateway

import (
	"io"
	"net/http"
	"strings"

	"virtualpos/internal/pkg/httpclient"
)

// mockTransport lets tests stub the gateway endpoints without a server.
type mockTransport struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.fn(req)
}

func stubClient(fn func(req *http.Request) (*http.Response, error)) *httpclient.Client {
	return httpclient.New().WithTransport(&mockTransport{fn: fn})
}

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

package httpclient

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for HTTP requests to the payment gateways.
type Client struct {
	r *resty.Client
}

// New creates a new HTTP client with sensible defaults.
func New() *Client {
	r := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{r: r}
}

// WithTransport swaps the underlying transport. Used by tests to stub
// gateway endpoints.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.r.SetTransport(rt)
	return c
}

// PostForm sends a POST request with urlencoded form data.
func (c *Client) PostForm(url string, data map[string]string) ([]byte, error) {
	resp, err := c.r.R().SetFormData(data).Post(url)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// PostFormStatus is PostForm but also reports the HTTP status code, for
// gateways whose failure mode is a non-200 page.
func (c *Client) PostFormStatus(url string, data map[string]string) ([]byte, int, error) {
	resp, err := c.r.R().SetFormData(data).Post(url)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body(), resp.StatusCode(), nil
}

// PostXML sends a POST request with a raw XML body.
func (c *Client) PostXML(url string, body string) ([]byte, error) {
	resp, err := c.r.R().
		SetHeader("Content-Type", "application/xml").
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Request returns a new resty Request for chaining.
func (c *Client) Request() *resty.Request {
	return c.r.R()
}

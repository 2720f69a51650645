package gate

import (
	"errors"
	"net/http"
	"strings"
)

// Transport gates a fetch-style client. Declined checkout calls fail with
// ErrPurchaseBlocked.
type Transport struct {
	Gate *Gate
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, err := t.Gate.Wait(req.Context(), req.URL.String()); err != nil {
		return nil, err
	}
	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// AsyncClient gates a request/response style client whose caller is told
// about completion through a callback. A declined checkout call is
// dropped: done is never invoked.
type AsyncClient struct {
	Gate *Gate
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Send returns immediately. done runs on its own goroutine.
func (c *AsyncClient) Send(req *http.Request, done func(*http.Response, error)) {
	go func() {
		if _, err := c.Gate.Wait(req.Context(), req.URL.String()); err != nil {
			if errors.Is(err, ErrPurchaseBlocked) {
				return
			}
			if done != nil {
				done(nil, err)
			}
			return
		}
		client := c.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if done != nil {
			done(resp, err)
		} else if resp != nil {
			resp.Body.Close()
		}
	}()
}

// SafeMethod reports methods that only read, such as loading a checkout
// page or an order history. They never open an episode, though Wait still
// holds them while one is open.
func SafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

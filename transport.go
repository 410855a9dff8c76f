package x402

import (
	"net/http"

	"github.com/Djtrixuk/moltydex-x402-example/types"
)

// Transport is an http.RoundTripper that pays on 402. Non-402 responses
// pass through untouched; a 402 runs the full orchestration and yields the
// replayed response instead. When the replays never clear the 402, the
// final 402 response is returned with a nil error; call
// HandlePaymentRequired directly to also get the typed error.
type Transport struct {
	// Base performs the actual round trips. nil means
	// http.DefaultTransport.
	Base http.RoundTripper

	Handler *Handler
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	spec, err := NewRequestSpec(req)
	if err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	// A RoundTripper must not return a response together with an error.
	final, err := t.Handler.HandlePaymentRequired(req.Context(), resp, spec)
	if err == nil {
		return final, nil
	}
	if final != nil {
		if types.IsCode(err, types.ErrRetryExhausted) {
			return final, nil
		}
		discardBody(final)
	}
	return nil, err
}

// HTTPClient returns a client that pays 402 responses automatically.
// Replays go through the handler's own plain client, so they never re-enter
// the transport.
func (h *Handler) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Handler: h}}
}

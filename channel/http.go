package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 64 << 10

// Doer is the subset of *http.Client used by the HTTP-based adapters.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PostJSON sends body as a JSON POST and returns the status code and the
// (truncated) response body. The error is non-nil only when no response
// was received; encoding failures are marked permanent.
func PostJSON(ctx context.Context, doer Doer, url string, header http.Header, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, MarkPermanent(fmt.Errorf("marshal request: %w", err))
	}
	return PostRaw(ctx, doer, url, header, payload)
}

// PostRaw is PostJSON for an already encoded payload.
func PostRaw(ctx context.Context, doer Doer, url string, header http.Header, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, MarkPermanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := doer.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// maxReasonLen caps how much of a response body ends up in a reason.
const maxReasonLen = 200

// HTTPOutcome classifies the result of PostJSON or PostRaw with c.
func (c Classification) HTTPOutcome(code int, body []byte, err error) Outcome {
	if err != nil {
		return TransportOutcome(err)
	}
	return c.Outcome(code, Snippet(body))
}

// Snippet renders a response body for use in a failure reason.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(s) <= maxReasonLen {
		return s
	}
	return string([]rune(s)[:maxReasonLen]) + "..."
}

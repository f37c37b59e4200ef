package channel

import (
	"errors"
	"net"
	"net/http"
	"strconv"
)

// Classification maps transport status codes onto outcome kinds. Each
// adapter carries its own table so operators can tune which responses are
// retried per channel.
type Classification struct {
	// Overrides takes precedence over the default rules.
	Overrides map[int]Kind
}

// DefaultClassification treats 2xx as delivered; 408, 425, 429 and 5xx as
// transient; everything else as permanent.
func DefaultClassification() Classification {
	return Classification{}
}

// With returns a copy of c with code mapped to k.
func (c Classification) With(code int, k Kind) Classification {
	overrides := make(map[int]Kind, len(c.Overrides)+1)
	for existing, kind := range c.Overrides {
		overrides[existing] = kind
	}
	overrides[code] = k
	return Classification{Overrides: overrides}
}

// KindFor classifies an HTTP-style status code.
func (c Classification) KindFor(code int) Kind {
	if k, ok := c.Overrides[code]; ok {
		return k
	}
	switch {
	case code >= 200 && code < 300:
		return KindDelivered
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Outcome classifies code, using detail as the failure reason.
func (c Classification) Outcome(code int, detail string) Outcome {
	k := c.KindFor(code)
	if k == KindDelivered {
		return Delivered()
	}
	reason := "status " + strconv.Itoa(code)
	if detail != "" {
		reason += ": " + detail
	}
	return Outcome{Kind: k, Reason: reason}
}

// TransportOutcome classifies an error returned before any response was
// received. Network failures and timeouts are transient; so is anything
// unrecognised.
func TransportOutcome(err error) Outcome {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Transient("timeout: " + err.Error())
	}
	return Classify(err)
}

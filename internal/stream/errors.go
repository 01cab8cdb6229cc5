package stream

import (
	"net/http"
	"strings"
)

// Class buckets connection failures by how the retry loop must react.
type Class int

const (
	// ClassTransient covers ordinary closes, resets and timeouts. Normal
	// backoff applies.
	ClassTransient Class = iota
	// ClassRateLimited is a 429-equivalent. Reconnect immediately with the
	// next proxy, bypassing backoff.
	ClassRateLimited
	// ClassProxyPayment is a 402-equivalent proxy-health signal. Logged as a
	// warning; normal backoff applies.
	ClassProxyPayment
	// ClassBadGateway is a 502-equivalent. Venues that allow it flip a
	// sticky no-proxy fallback.
	ClassBadGateway
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassProxyPayment:
		return "proxy_payment"
	case ClassBadGateway:
		return "bad_gateway"
	default:
		return "transient"
	}
}

// Classify buckets a dial or read failure. The handshake response carries
// the status code when the upstream rejected the upgrade; otherwise the
// error text is probed for the status the proxy relayed.
func Classify(err error, resp *http.Response) Class {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return ClassRateLimited
		case http.StatusPaymentRequired:
			return ClassProxyPayment
		case http.StatusBadGateway:
			return ClassBadGateway
		}
	}
	if err == nil {
		return ClassTransient
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests"):
		return ClassRateLimited
	case strings.Contains(msg, "402") || strings.Contains(msg, "Payment Required"):
		return ClassProxyPayment
	case strings.Contains(msg, "502") || strings.Contains(msg, "Bad Gateway"):
		return ClassBadGateway
	}
	return ClassTransient
}

package retry

import (
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"syscall"
)

type coder interface{ Code() string }

type statusCoder interface{ StatusCode() int }

// smithy-go response errors from the AWS SDK.
type httpStatusCoder interface{ HTTPStatusCode() int }

var errnoCodes = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
}

// IsRetryable reports whether err is a transient failure: a network error
// whose code is in codes, or an upstream response with status 429 or >= 500.
func IsRetryable(err error, codes []string) bool {
	if err == nil {
		return false
	}
	if c := Code(err); c != "" && slices.Contains(codes, c) {
		return true
	}
	s := Status(err)
	return s == http.StatusTooManyRequests || s >= 500
}

// Code extracts a network error code from err, "" when there is none.
func Code(err error) string {
	var c coder
	if errors.As(err, &c) {
		if code := c.Code(); code != "" {
			return code
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if code, ok := errnoCodes[errno]; ok {
			return code
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "ENOTFOUND"
		}
		return "EAI_AGAIN"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	// peer closed the connection mid-response
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return "ECONNRESET"
	}
	return ""
}

// Status extracts an upstream HTTP status from err, 0 when there is none.
func Status(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	var hc httpStatusCoder
	if errors.As(err, &hc) {
		return hc.HTTPStatusCode()
	}
	return 0
}

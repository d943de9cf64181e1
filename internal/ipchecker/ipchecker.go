// Package ipchecker restricts who may talk to the process. The session it
// holds belongs to the local user, so requests from outside the trusted
// subnet are refused.
package ipchecker

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/patric-chuzhbe/sessionauth/internal/logger"
)

// IPChecker validates that a client address belongs to a trusted subnet.
type IPChecker struct {
	trustedSubnet     *net.IPNet
	trustProxyHeaders bool
}

type Option func(*IPChecker)

// WithProxyHeaders makes GetClientIP honour X-Real-IP and X-Forwarded-For.
// Only enable it behind a proxy that overwrites those headers.
func WithProxyHeaders(enabled bool) Option {
	return func(checker *IPChecker) {
		checker.trustProxyHeaders = enabled
	}
}

// New creates an IPChecker for the CIDR trustedSubnet. An empty
// trustedSubnet disables the check.
func New(trustedSubnet string, opts ...Option) (*IPChecker, error) {
	checker := &IPChecker{}
	for _, opt := range opts {
		opt(checker)
	}

	if trustedSubnet == "" {
		return checker, nil
	}
	_, allowedNet, err := net.ParseCIDR(trustedSubnet)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
	}
	checker.trustedSubnet = allowedNet

	return checker, nil
}

// Check reports whether clientIP lies in the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && checker.trustedSubnet.Contains(clientIP)
}

// GetClientIP extracts the client address from request.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	if checker.trustProxyHeaders {
		if ip := net.ParseIP(request.Header.Get("X-Real-IP")); ip != nil {
			return ip, nil
		}
		if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip, nil
			}
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/GetClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}

	return net.ParseIP(host), nil
}

// IsTrustedSubnetEmpty returns true if no trusted subnet was configured.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// Restrict refuses requests from outside the trusted subnet with 403. With no
// subnet configured every request passes.
func (checker *IPChecker) Restrict(h http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		if checker.IsTrustedSubnetEmpty() {
			h.ServeHTTP(response, request)
			return
		}

		clientIP, err := checker.GetClientIP(request)
		if err != nil || !checker.Check(clientIP) {
			logger.Log.Debugln("request from untrusted address refused", "remote", request.RemoteAddr)
			response.WriteHeader(http.StatusForbidden)
			return
		}

		h.ServeHTTP(response, request)
	})
}

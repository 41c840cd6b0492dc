package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"mediaconvert/logger"
)

// Identity is the resolved owner of a request: an authenticated user id, or the
// anonymous client IP. UserID wins when both are known.
type Identity struct {
	UserID    string
	IPAddress string
}

// IsAuthenticated reports whether the identity carries a user id.
func (i Identity) IsAuthenticated() bool {
	return i.UserID != ""
}

func (i Identity) String() string {
	if i.IsAuthenticated() {
		return "user:" + i.UserID
	}
	return "ip:" + i.IPAddress
}

// User returns an authenticated identity.
func User(id string) Identity { return Identity{UserID: id} }

// Anonymous returns an IP-keyed identity.
func Anonymous(ip string) Identity { return Identity{IPAddress: ip} }

// ValidIP reports whether s is a well-formed IPv4 or IPv6 address.
func ValidIP(s string) bool {
	if s == "" {
		return false
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// NormalizeIP strips ports, zones and IPv4-mapped prefixes so that the same
// client always yields the same key. Malformed input is returned trimmed and
// unchanged; callers must check ValidIP before trusting it.
func NormalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().WithZone("").String()
}

// Resolver derives the Identity of an HTTP request.
type Resolver struct {
	verifier   *TokenVerifier
	trustProxy bool
}

// NewResolver builds a resolver. verifier may be nil, in which case every
// request is anonymous. trustProxy enables X-Forwarded-For / X-Real-IP.
func NewResolver(verifier *TokenVerifier, trustProxy bool) *Resolver {
	return &Resolver{verifier: verifier, trustProxy: trustProxy}
}

// Resolve returns the request's identity. An invalid or expired bearer token
// falls back to the anonymous identity rather than failing the request.
func (r *Resolver) Resolve(req *http.Request) Identity {
	ip := r.ClientIP(req)

	token, ok := bearerToken(req)
	if !ok || r.verifier == nil {
		return Anonymous(ip)
	}

	claims, err := r.verifier.Verify(token)
	if err != nil {
		logger.Debugf("Ignoring bearer token from %s: %v", ip, err)
		return Anonymous(ip)
	}
	return Identity{UserID: claims.UserID(), IPAddress: ip}
}

// ClientIP extracts the normalized client address.
func (r *Resolver) ClientIP(req *http.Request) string {
	if r.trustProxy {
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.Split(fwd, ",")[0]
			if ip := NormalizeIP(first); ValidIP(ip) {
				return ip
			}
		}
		if realIP := NormalizeIP(req.Header.Get("X-Real-IP")); ValidIP(realIP) {
			return realIP
		}
	}
	return NormalizeIP(req.RemoteAddr)
}

func bearerToken(req *http.Request) (string, bool) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", false
	}
	return token, true
}

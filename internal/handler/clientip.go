package handler

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
)

// TrustedProxies lists the peers whose X-Real-IP and X-Forwarded-For headers
// are believed. An empty list trusts nobody.
type TrustedProxies []netip.Prefix

func (tp TrustedProxies) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range tp {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the client address of r. Forwarding headers are only read
// when the direct peer is trusted. X-Forwarded-For is walked from the right
// and the first hop that is not a trusted proxy is the client.
func (tp TrustedProxies) Resolve(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !tp.trusts(addr) {
		return peer
	}

	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return ip.Unmap().String()
	}

	client := addr
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !tp.trusts(client) {
			break
		}
	}
	return client.String()
}

// WithClientIP stores the resolved client address on ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextkeys.ClientIP, ip)
}

// ClientIP returns the address resolved by the RealIP middleware, or the
// direct peer when the request did not pass through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextkeys.ClientIP).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

package signals

import (
	"fmt"
	"net/netip"
	"strings"
)

// Network adjustment bounds for the fraud surface.
const (
	MaxNetworkAdjustment       = 0.3
	WatchlistNetworkAdjustment = 0.15

	// SuspiciousNetworkThreshold is the adjustment at which an address
	// fires suspicious_network. Watchlist hits alone stay below it.
	SuspiciousNetworkThreshold = 0.2
)

// NetworkVerdict is the reputation of a single source address.
type NetworkVerdict struct {
	Adjustment float64 // additive fraud term in [0, MaxNetworkAdjustment]
	Blocked    bool
}

// NetworkReputation scores source addresses. Implementations must be
// deterministic for a given address.
type NetworkReputation interface {
	Lookup(addr netip.Addr) NetworkVerdict
}

// CIDRReputation scores addresses against static blocklist and watchlist
// prefixes. Blocklisted addresses get the maximum adjustment.
type CIDRReputation struct {
	blocked []netip.Prefix
	watched []netip.Prefix
}

// NewCIDRReputation parses blocklist and watchlist CIDRs. Bare addresses are
// accepted as single-host prefixes.
func NewCIDRReputation(blocked, watched []string) (*CIDRReputation, error) {
	b, err := parsePrefixes(blocked)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	w, err := parsePrefixes(watched)
	if err != nil {
		return nil, fmt.Errorf("watchlist: %w", err)
	}
	return &CIDRReputation{blocked: b, watched: w}, nil
}

func (r *CIDRReputation) Lookup(addr netip.Addr) NetworkVerdict {
	if r == nil || !addr.IsValid() {
		return NetworkVerdict{}
	}
	addr = addr.Unmap()
	for _, p := range r.blocked {
		if p.Contains(addr) {
			return NetworkVerdict{Adjustment: MaxNetworkAdjustment, Blocked: true}
		}
	}
	for _, p := range r.watched {
		if p.Contains(addr) {
			return NetworkVerdict{Adjustment: WatchlistNetworkAdjustment}
		}
	}
	return NetworkVerdict{}
}

// ParsePrefixList validates a list of CIDRs or bare addresses.
func ParsePrefixList(items []string) error {
	_, err := parsePrefixes(items)
	return err
}

func parsePrefixes(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, raw := range items {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", raw, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

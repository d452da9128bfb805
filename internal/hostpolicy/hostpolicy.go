package hostpolicy

import (
	"strings"
	"sync/atomic"

	"github.com/m1k1o/go-streamproxy/internal/utils"
)

// Policy is the host allowlist plus per-host header templates. Both lookups
// use the same left-peel rule: a host matches an entry if the entry equals
// the host or any dot-suffix of it, most specific first.
//
// The state is an immutable snapshot behind an atomic pointer, so lookups
// stay lock-free while a config reload swaps the whole policy at once.
type Policy struct {
	state atomic.Pointer[policyState]
}

type policyState struct {
	allow     map[string]struct{}
	templates map[string]map[string]string
}

func New(allow []string, templates map[string]map[string]string) *Policy {
	p := &Policy{}
	p.Reload(allow, templates)
	return p
}

// Reload replaces the allowlist and header templates. In-flight requests
// keep the snapshot they already loaded.
func (p *Policy) Reload(allow []string, templates map[string]map[string]string) {
	st := &policyState{
		allow:     make(map[string]struct{}, len(allow)),
		templates: make(map[string]map[string]string, len(templates)),
	}
	for _, h := range allow {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			st.allow[h] = struct{}{}
		}
	}
	for h, tpl := range templates {
		cp := make(map[string]string, len(tpl))
		for name, value := range tpl {
			cp[name] = value
		}
		st.templates[strings.ToLower(strings.TrimSpace(h))] = cp
	}
	p.state.Store(st)
}

// IsAllowed reports whether hostname passes the allowlist. An empty
// allowlist admits every host.
func (p *Policy) IsAllowed(hostname string) bool {
	st := p.state.Load()
	if len(st.allow) == 0 {
		return true
	}

	for _, candidate := range peel(hostname) {
		if _, ok := st.allow[candidate]; ok {
			return true
		}
	}
	return false
}

// HeadersFor merges the most specific header template for hostname with the
// caller's headers. Caller values win per-field.
func (p *Policy) HeadersFor(hostname string, caller utils.Headers) utils.Headers {
	st := p.state.Load()
	out := utils.NewHeaders()

	for _, candidate := range peel(hostname) {
		if tpl, ok := st.templates[candidate]; ok {
			for name, value := range tpl {
				out.Set(name, value)
			}
			break
		}
	}

	caller.Range(func(name, value string) {
		out.Set(name, value)
	})
	return out
}

// peel returns hostname followed by each dot-suffix, labels peeled from the
// left: "a.b.example.com" -> ["a.b.example.com", "b.example.com",
// "example.com", "com"].
func peel(hostname string) []string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return nil
	}

	var out []string
	for {
		out = append(out, hostname)
		i := strings.IndexByte(hostname, '.')
		if i < 0 {
			break
		}
		hostname = hostname[i+1:]
	}
	return out
}

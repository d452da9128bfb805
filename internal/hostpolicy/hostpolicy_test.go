package hostpolicy

import (
	"testing"

	"github.com/m1k1o/go-streamproxy/internal/utils"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name  string
		allow []string
		host  string
		want  bool
	}{
		{
			name: "empty allowlist admits all",
			host: "anything.example",
			want: true,
		},
		{
			name:  "exact match",
			allow: []string{"cdn.example.com"},
			host:  "cdn.example.com",
			want:  true,
		},
		{
			name:  "subdomain via suffix",
			allow: []string{"example.com"},
			host:  "edge7.cdn.example.com",
			want:  true,
		},
		{
			name:  "unrelated host rejected",
			allow: []string{"example.com"},
			host:  "evil.example.net",
			want:  false,
		},
		{
			name:  "no partial label match",
			allow: []string{"example.com"},
			host:  "notexample.com",
			want:  false,
		},
		{
			name:  "case insensitive",
			allow: []string{"Example.COM"},
			host:  "CDN.example.com",
			want:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.allow, nil)
			if got := p.IsAllowed(tt.host); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestHeadersFor(t *testing.T) {
	templates := map[string]map[string]string{
		"example.com": {
			"Referer":    "https://player.example.com/",
			"User-Agent": "TemplateAgent/1.0",
		},
		"cdn.example.com": {
			"Referer": "https://cdn-player.example.com/",
		},
	}
	p := New(nil, templates)

	t.Run("most specific template wins", func(t *testing.T) {
		h := p.HeadersFor("edge.cdn.example.com", utils.NewHeaders())
		if got := h.Get("Referer"); got != "https://cdn-player.example.com/" {
			t.Errorf("Referer = %q, want cdn template", got)
		}
		if h.Has("User-Agent") {
			t.Error("User-Agent leaked from the less specific template")
		}
	})

	t.Run("caller wins per field", func(t *testing.T) {
		caller := utils.NewHeaders()
		caller.Set("referer", "https://caller.example/")

		h := p.HeadersFor("www.example.com", caller)
		if got := h.Get("Referer"); got != "https://caller.example/" {
			t.Errorf("Referer = %q, want caller value", got)
		}
		if got := h.Get("User-Agent"); got != "TemplateAgent/1.0" {
			t.Errorf("User-Agent = %q, want template value", got)
		}
	})

	t.Run("no template", func(t *testing.T) {
		caller := utils.NewHeaders()
		caller.Set("Origin", "https://site.example")

		h := p.HeadersFor("other.example.net", caller)
		if h.Len() != 1 || h.Get("Origin") != "https://site.example" {
			t.Errorf("unexpected headers for templateless host: %d entries", h.Len())
		}
	})
}

func TestReload(t *testing.T) {
	p := New([]string{"old.example"}, map[string]map[string]string{
		"old.example": {"Referer": "https://old.example/"},
	})

	p.Reload([]string{"new.example"}, map[string]map[string]string{
		"new.example": {"Referer": "https://new.example/"},
	})

	if p.IsAllowed("old.example") {
		t.Error("old allowlist entry survived reload")
	}
	if !p.IsAllowed("new.example") {
		t.Error("new allowlist entry not applied")
	}

	h := p.HeadersFor("new.example", utils.NewHeaders())
	if got := h.Get("Referer"); got != "https://new.example/" {
		t.Errorf("Referer = %q, want reloaded template", got)
	}
}

package safeurl

import (
	"regexp"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain url",
			input: "https://example.com/m/root.m3u8",
			want:  "https://example.com/m/root.m3u8",
		},
		{
			name:  "whitespace trimmed",
			input: "  https://example.com/a.m3u8\n",
			want:  "https://example.com/a.m3u8",
		},
		{
			name:  "fragment stripped",
			input: "https://example.com/a.m3u8#t=10",
			want:  "https://example.com/a.m3u8",
		},
		{
			name:  "encoded once",
			input: "https%3A%2F%2Fexample.com%2Fa.m3u8",
			want:  "https://example.com/a.m3u8",
		},
		{
			name:  "query preserved",
			input: "http://example.com/a.m3u8?token=abc",
			want:  "http://example.com/a.m3u8?token=abc",
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "relative",
			input:   "/a/b.m3u8",
			wantErr: true,
		},
		{
			name:    "bad scheme",
			input:   "ftp://example.com/a.m3u8",
			wantErr: true,
		},
		{
			name:    "file scheme",
			input:   "file:///etc/passwd",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Normalize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com/m/root.m3u8",
		"https%3A%2F%2Fexample.com%2Fa.m3u8",
		"http://example.com/a.m3u8?token=abc&x=1",
		"https://example.com/path%20with%20space/seg.ts",
	}
	for _, input := range inputs {
		once, err := Normalize(input)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", input, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)) error: %v", input, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestValidateSafety(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "clean url",
			input: "https://example.com/a.m3u8?token=abc",
		},
		{
			name:    "two urls",
			input:   "https://a.example/x https://b.example/y",
			wantErr: true,
		},
		{
			name:    "nested url with query",
			input:   "https://proxy.example/get?url=https://hidden.example/a?b=c",
			wantErr: true,
		},
		{
			name:    "nested url ampersand",
			input:   "https://proxy.example/get?url=https://hidden.example/a%26b",
			wantErr: true,
		},
		{
			name:  "plain url value without query",
			input: "https://proxy.example/get?next=step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSafety(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSafety() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSafetyRejectsMultipleSchemes(t *testing.T) {
	re := regexp.MustCompile(`https?://`)
	inputs := []string{
		"https://a.example/?u=https://b.example/",
		"http://a.example/ or http://b.example/",
		"https://a.example/https://b.example/",
	}
	for _, input := range inputs {
		if len(re.FindAllString(input, -1)) < 2 {
			t.Fatalf("test input %q does not contain two schemes", input)
		}
		if err := ValidateSafety(input); err == nil {
			t.Errorf("ValidateSafety(%q) accepted input with multiple urls", input)
		}
	}
}

func TestSanitizeForLogging(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "token redacted",
			input: "https://example.com/a.m3u8?token=secret123",
			want:  "https://example.com/a.m3u8?token=[REDACTED]",
		},
		{
			name:  "plain query kept",
			input: "https://example.com/a.m3u8?quality=720",
			want:  "https://example.com/a.m3u8?quality=720",
		},
		{
			name:  "no query",
			input: "https://example.com/a.m3u8",
			want:  "https://example.com/a.m3u8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLogging(tt.input); got != tt.want {
				t.Errorf("SanitizeForLogging() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeForLoggingNoSecretsLeak(t *testing.T) {
	inputs := []string{
		"https://example.com/a.m3u8?token=abc123&key=k1&auth=a1",
		"https://example.com/a.m3u8?signature=s&sig=s2&access_token=at&api_key=ak",
		"https://example.com/a.m3u8?Token=MixedCase",
	}
	leak := regexp.MustCompile(`(?i)(token|key|auth|signature|sig|access_token|api_key)=[^&\[]`)
	for _, input := range inputs {
		got := SanitizeForLogging(input)
		if leak.MatchString(got) {
			t.Errorf("SanitizeForLogging(%q) leaked a secret: %q", input, got)
		}
		if !strings.Contains(got, "example.com") {
			t.Errorf("SanitizeForLogging(%q) lost the host: %q", input, got)
		}
	}
}

func TestSanitizeForLoggingUnparseable(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := SanitizeForLogging(long)
	if len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("SanitizeForLogging truncation = %d bytes, want 100 + ellipsis", len(got))
	}
}

package analytics

import (
	"errors"
	"testing"
	"time"
)

func TestSignatureOrderIndependent(t *testing.T) {
	a := Filters{Models: []string{"gpt-4o", "claude-3"}, Users: []string{"u2", "u1"}}
	b := Filters{Users: []string{"u1", "u2", "u1"}, Models: []string{"claude-3", "gpt-4o"}}
	if a.Signature() != b.Signature() {
		t.Fatalf("signatures differ: %q vs %q", a.Signature(), b.Signature())
	}
	want := "model=claude-3,gpt-4o;user=u1,u2"
	if got := a.Signature(); got != want {
		t.Fatalf("unexpected signature %q, want %q", got, want)
	}
}

func TestSignatureEmpty(t *testing.T) {
	if got := (Filters{}).Signature(); got != "all" {
		t.Fatalf("empty filters should encode as all, got %q", got)
	}
	if got := (Filters{Models: []string{"  ", ""}}).Signature(); got != "all" {
		t.Fatalf("blank values should encode as all, got %q", got)
	}
}

func TestNormalizeRejectsSeparators(t *testing.T) {
	_, err := Filters{Models: []string{"bad;value"}}.Normalize()
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestMatchesAndAcrossOrWithin(t *testing.T) {
	ev := UsageEvent{
		Timestamp: time.Now(),
		UserID:    "u1",
		Model:     "gpt-4o",
		Provider:  "openai",
		APIKeyID:  "k1",
	}

	cases := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"no filters", Filters{}, true},
		{"or within dimension", Filters{Models: []string{"claude-3", "gpt-4o"}}, true},
		{"and across dimensions", Filters{Models: []string{"gpt-4o"}, Users: []string{"u1"}}, true},
		{"and fails one dimension", Filters{Models: []string{"gpt-4o"}, Users: []string{"u2"}}, false},
		{"or misses", Filters{Providers: []string{"azure", "bedrock"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filters.Matches(ev); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

package id

import (
	"regexp"
	"testing"
	"time"
)

func TestOrderIDFormat(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	got := OrderID(now)

	if !regexp.MustCompile(`^ORD-1700000000123-[0-9A-Z]{9}$`).MatchString(got) {
		t.Fatalf("unexpected order id %q", got)
	}
}

func TestNewIsUnique(t *testing.T) {
	if New() == New() {
		t.Fatal("expected distinct ids")
	}
}

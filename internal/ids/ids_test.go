package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewAtIsSortableAndParseable(t *testing.T) {
	at := time.Date(2025, time.December, 3, 6, 0, 0, 0, time.UTC)
	first := NewAt(at)
	second := NewAt(at)
	if first >= second {
		t.Fatalf("expected monotonic ids, got %s then %s", first, second)
	}
	parsed, err := ulid.Parse(first)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(at) {
		t.Fatalf("timestamp mismatch: got=%s want=%s", got, at)
	}
}

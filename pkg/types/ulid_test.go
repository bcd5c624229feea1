package types

import (
	"errors"
	"testing"
	"time"
)

func TestULIDGenerator_TimeOrdering(t *testing.T) {
	gen := NewULIDGenerator()

	t1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	u1, err := gen.GenerateWithTime(t1)
	if err != nil {
		t.Fatalf("failed to generate ULID: %v", err)
	}
	u2, err := gen.GenerateWithTime(t2)
	if err != nil {
		t.Fatalf("failed to generate ULID: %v", err)
	}

	if u1.Compare(u2) >= 0 {
		t.Errorf("expected ULID at t1 < ULID at t2, got %s >= %s", u1, u2)
	}
	if u1.String() >= u2.String() {
		t.Errorf("expected string ordering to match byte ordering: %s >= %s", u1, u2)
	}
}

func TestULIDGenerator_MonotonicWithinMillisecond(t *testing.T) {
	gen := NewULIDGenerator()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var prev ULID
	for i := 0; i < 200; i++ {
		u, err := gen.GenerateWithTime(ts)
		if err != nil {
			t.Fatalf("failed to generate ULID: %v", err)
		}
		if i > 0 && prev.Compare(u) >= 0 {
			t.Fatalf("ULID %d not strictly greater: %s >= %s", i, prev, u)
		}
		prev = u
	}
}

func TestULID_Timestamp(t *testing.T) {
	gen := NewULIDGenerator()
	ts := time.Date(2026, 8, 5, 10, 30, 0, 0, time.UTC)

	u, err := gen.GenerateWithTime(ts)
	if err != nil {
		t.Fatalf("failed to generate ULID: %v", err)
	}

	if got, want := u.Timestamp(), uint64(ts.UnixMilli()); got != want {
		t.Errorf("timestamp mismatch: got %d, want %d", got, want)
	}
	if !u.Time().Equal(time.UnixMilli(ts.UnixMilli())) {
		t.Errorf("time mismatch: got %v", u.Time())
	}
}

func TestULID_StringRoundTrip(t *testing.T) {
	gen := NewULIDGenerator()

	u, err := gen.Generate()
	if err != nil {
		t.Fatalf("failed to generate ULID: %v", err)
	}

	s := u.String()
	if len(s) != 26 {
		t.Fatalf("expected 26-character string, got %d", len(s))
	}

	parsed, err := ParseULID(s)
	if err != nil {
		t.Fatalf("failed to parse ULID %q: %v", s, err)
	}
	if parsed != u {
		t.Errorf("round trip mismatch: %s != %s", parsed, u)
	}
}

func TestParseULID_Invalid(t *testing.T) {
	if _, err := ParseULID("too-short"); !errors.Is(err, ErrInvalidULIDLength) {
		t.Errorf("expected ErrInvalidULIDLength, got %v", err)
	}
	if _, err := ParseULID("0000000000000000000000000U"); !errors.Is(err, ErrInvalidULIDCharacter) {
		t.Errorf("expected ErrInvalidULIDCharacter, got %v", err)
	}
}

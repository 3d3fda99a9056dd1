package mock

import (
	"sync"
	"testing"
	"time"

	"tokenrelay/pkg/oauth"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	clockTime := RealClock{}.Now()
	after := time.Now()

	if clockTime.Before(before) || clockTime.After(after) {
		t.Errorf("RealClock.Now() returned time outside expected range")
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	startTime := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(startTime)

	if !clock.Now().Equal(startTime) {
		t.Errorf("Expected time %v, got %v", startTime, clock.Now())
	}

	clock.Advance(time.Hour)
	clock.Add(30 * time.Minute)
	if want := startTime.Add(90 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("Expected time %v after advance, got %v", want, clock.Now())
	}

	newTime := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	clock.Set(newTime)
	if !clock.Now().Equal(newTime) {
		t.Errorf("Expected time %v after Set, got %v", newTime, clock.Now())
	}
}

func TestMockClock_ZeroTime(t *testing.T) {
	before := time.Now()
	clock := NewMockClock(time.Time{})
	after := time.Now()

	if clockTime := clock.Now(); clockTime.Before(before) || clockTime.After(after) {
		t.Errorf("MockClock with zero time should initialize to current time")
	}
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	if got := clock.Now().Unix(); got != 10 {
		t.Errorf("Expected 10 seconds after concurrent advances, got %d", got)
	}
}

func TestMockClock_TokenRecordExpiry(t *testing.T) {
	issuedAt := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(issuedAt)
	rec := &oauth.TokenRecord{AccessToken: "A", ExpiresIn: 3600, IssuedAt: issuedAt.Unix()}

	if rec.IsExpired(clock.Now()) {
		t.Error("Token should be valid at issue time")
	}

	clock.Advance(time.Hour)
	if rec.IsExpired(clock.Now()) {
		t.Error("Token should still be valid exactly at its lifetime")
	}

	clock.Advance(time.Second)
	if !rec.IsExpired(clock.Now()) {
		t.Error("Token should be expired one second past its lifetime")
	}
}

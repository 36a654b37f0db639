package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"tastytrade-brokerage/gateway"
)

func TestPendingTrackerResolve(t *testing.T) {
	tr := NewPendingTracker(time.Second, nil)
	go func() {
		// 等 Submit 登记后再确认；Resolve 会被锁挡住直到登记完成
		for {
			if e, ok := tr.Resolve("42", gateway.StatusRouted); ok {
				e.Complete(gateway.StatusRouted)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	accepted := ""
	id, err := tr.Submit(context.Background(), Submission{
		Send:     func() (string, error) { return "42", nil },
		Accepted: func(id string) { accepted = id },
	})
	if err != nil || id != "42" || accepted != "42" {
		t.Fatalf("submit = %q %v (accepted %q)", id, err, accepted)
	}
	if tr.Len() != 0 {
		t.Fatalf("entry left after resolve")
	}
}

func TestPendingTrackerIgnoresInFlight(t *testing.T) {
	tr := NewPendingTracker(30*time.Millisecond, nil)
	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.Resolve("1", gateway.StatusInFlight)
	}()
	_, err := tr.Submit(context.Background(), Submission{Send: func() (string, error) { return "1", nil }})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("In Flight should not resolve, got %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("timed out entry not purged")
	}
}

func TestPendingTrackerSendError(t *testing.T) {
	tr := NewPendingTracker(time.Second, nil)
	boom := errors.New("boom")
	accepted := false
	_, err := tr.Submit(context.Background(), Submission{
		Send:     func() (string, error) { return "", boom },
		Accepted: func(string) { accepted = true },
	})
	if !errors.Is(err, boom) || accepted {
		t.Fatalf("err = %v accepted = %v", err, accepted)
	}
	if tr.Len() != 0 {
		t.Fatalf("failed send registered an entry")
	}
}

func TestPendingTrackerContextCancel(t *testing.T) {
	tr := NewPendingTracker(time.Minute, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Submit(ctx, Submission{Send: func() (string, error) { return "7", nil }})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestPendingTrackerPlaceholder(t *testing.T) {
	tr := NewPendingTracker(30*time.Millisecond, nil)
	_, err := tr.Replace(context.Background(), "old", Submission{Send: func() (string, error) { return "new", nil }})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	// 占位条目只会被 Cancelled 取走
	if _, ok := tr.Resolve("old", gateway.StatusLive); ok {
		t.Fatalf("placeholder consumed by Live")
	}
	e, ok := tr.Resolve("old", gateway.StatusCancelled)
	if !ok || !e.Placeholder {
		t.Fatalf("placeholder not consumed by Cancelled")
	}
	if tr.Len() != 0 {
		t.Fatalf("entries left: %d", tr.Len())
	}
}

func TestPendingTrackerReplaceSendError(t *testing.T) {
	tr := NewPendingTracker(time.Second, nil)
	_, err := tr.Replace(context.Background(), "old", Submission{Send: func() (string, error) { return "", errors.New("not editable") }})
	if err == nil {
		t.Fatalf("expected error")
	}
	if tr.Len() != 0 {
		t.Fatalf("placeholder should be removed after failed replace")
	}
}

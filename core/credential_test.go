package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshableCredential_SchedulesRenewalBeforeExpiry(t *testing.T) {
	scheduler := &fakeScheduler{}
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		return Grant{Value: "v1", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(scheduler))

	value, err := cred.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if value != "v1" {
		t.Fatalf("expected v1, got %q", value)
	}
	pending := scheduler.pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", len(pending))
	}
	if pending[0].delay != 6600*time.Second {
		t.Fatalf("expected renewal at 6600s, got %s", pending[0].delay)
	}
}

func TestRefreshableCredential_ShortLifetimeRenewsAtMidpoint(t *testing.T) {
	scheduler := &fakeScheduler{}
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		return Grant{Value: "v1", ExpiresIn: 300 * time.Second}, nil
	}, WithCredentialScheduler(scheduler))

	if _, err := cred.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	pending := scheduler.pending()
	if len(pending) != 1 || pending[0].delay != 150*time.Second {
		t.Fatalf("expected one timer at 150s, got %+v", pending)
	}
}

func TestRefreshableCredential_FreshValueDoesNotRefetch(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		calls.Add(1)
		return Grant{Value: "v", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(&fakeScheduler{}), WithCredentialClock(clock.Now))

	for range 3 {
		if _, err := cred.EnsureFresh(context.Background()); err != nil {
			t.Fatalf("ensure fresh: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", calls.Load())
	}

	clock.Advance(6601 * time.Second)
	if _, err := cred.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a fetch inside the renewal margin, got %d", calls.Load())
	}
}

func TestRefreshableCredential_ConcurrentCallersShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		calls.Add(1)
		<-release
		return Grant{Value: "shared", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(&fakeScheduler{}))

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := cred.EnsureFresh(context.Background())
			if err != nil {
				t.Errorf("ensure fresh: %v", err)
				return
			}
			results <- value
		}()
	}
	eventually(t, "first fetch", func() bool { return calls.Load() == 1 })
	close(release)
	wg.Wait()
	close(results)

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one fetch, got %d", calls.Load())
	}
	count := 0
	for value := range results {
		count++
		if value != "shared" {
			t.Fatalf("expected shared value, got %q", value)
		}
	}
	if count != callers {
		t.Fatalf("expected %d results, got %d", callers, count)
	}
}

func TestRefreshableCredential_FailureSchedulesFixedRetry(t *testing.T) {
	scheduler := &fakeScheduler{}
	fetchErr := errors.New("boom")
	var reported error
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		return Grant{}, fetchErr
	}, WithCredentialScheduler(scheduler), OnRenewFailed(func(_ context.Context, err error) {
		reported = err
	}))

	if _, err := cred.EnsureFresh(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if !errors.Is(reported, fetchErr) {
		t.Fatalf("expected failure callback with fetch error, got %v", reported)
	}
	pending := scheduler.pending()
	if len(pending) != 1 || pending[0].delay != 600*time.Second {
		t.Fatalf("expected one retry timer at 600s, got %+v", pending)
	}
}

func TestRefreshableCredential_TimerRenewsAndReschedules(t *testing.T) {
	scheduler := &fakeScheduler{}
	var calls atomic.Int32
	var renewed []string
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		n := calls.Add(1)
		if n == 1 {
			return Grant{Value: "first", ExpiresIn: 7200 * time.Second}, nil
		}
		return Grant{Value: "second", ExpiresIn: 3600 * time.Second}, nil
	}, WithCredentialScheduler(scheduler), OnRenewed(func(_ context.Context, snapshot CredentialSnapshot) {
		renewed = append(renewed, snapshot.Value)
	}))

	if _, err := cred.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	scheduler.fireNext(t)

	value, _ := cred.Current()
	if value != "second" {
		t.Fatalf("expected timer renewal to install second value, got %q", value)
	}
	pending := scheduler.pending()
	if len(pending) != 1 || pending[0].delay != 3000*time.Second {
		t.Fatalf("expected one timer at 3000s, got %+v", pending)
	}
	if len(renewed) != 2 || renewed[0] != "first" || renewed[1] != "second" {
		t.Fatalf("unexpected renewals %v", renewed)
	}
}

func TestRefreshableCredential_CancelDiscardsInFlightResult(t *testing.T) {
	scheduler := &fakeScheduler{}
	release := make(chan struct{})
	started := make(chan struct{})
	renewedCalled := false
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		close(started)
		<-release
		return Grant{Value: "late", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(scheduler), OnRenewed(func(context.Context, CredentialSnapshot) {
		renewedCalled = true
	}))

	errs := make(chan error, 1)
	go func() {
		_, err := cred.EnsureFresh(context.Background())
		errs <- err
	}()
	waitFor(t, started, "fetch start")
	cred.Cancel()
	cred.Cancel()
	close(release)

	err := waitFor(t, errs, "ensure fresh result")
	if !IsCredentialStopped(err) {
		t.Fatalf("expected credential stopped error, got %v", err)
	}
	if value, _ := cred.Current(); value != "" {
		t.Fatalf("expected late value to be discarded, got %q", value)
	}
	if renewedCalled {
		t.Fatalf("expected no renewal callback after cancel")
	}
	if len(scheduler.pending()) != 0 {
		t.Fatalf("expected no pending timers after cancel")
	}
}

func TestRefreshableCredential_CancelStopsPendingTimer(t *testing.T) {
	scheduler := &fakeScheduler{}
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		return Grant{Value: "v", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(scheduler))

	if _, err := cred.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	timers := scheduler.pending()
	cred.Cancel()
	if len(scheduler.pending()) != 0 {
		t.Fatalf("expected cancel to stop the timer")
	}
	// a stale callback firing after cancel must not fetch
	timers[0].fn()
	if _, err := cred.EnsureFresh(context.Background()); !IsCredentialStopped(err) {
		t.Fatalf("expected stopped error, got %v", err)
	}
}

func TestRefreshableCredential_SeedSchedulesFromExpiry(t *testing.T) {
	clock := newFakeClock()
	scheduler := &fakeScheduler{}
	fetched := false
	cred := NewRefreshableCredential("token", func(context.Context) (Grant, error) {
		fetched = true
		return Grant{Value: "fetched", ExpiresIn: time.Hour}, nil
	}, WithCredentialScheduler(scheduler), WithCredentialClock(clock.Now))

	cred.Seed("stored", clock.Now().Add(time.Hour))
	value, err := cred.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if value != "stored" || fetched {
		t.Fatalf("expected seeded value without fetch, got %q fetched=%v", value, fetched)
	}
	pending := scheduler.pending()
	if len(pending) != 1 || pending[0].delay != 50*time.Minute {
		t.Fatalf("expected renewal 50m out, got %+v", pending)
	}
}

func TestRefreshableCredential_WaiterCancellationKeepsSharedFetch(t *testing.T) {
	release := make(chan struct{})
	cred := NewRefreshableCredential("token", func(ctx context.Context) (Grant, error) {
		<-release
		if ctx.Err() != nil {
			return Grant{}, ctx.Err()
		}
		return Grant{Value: "v", ExpiresIn: 7200 * time.Second}, nil
	}, WithCredentialScheduler(&fakeScheduler{}))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := cred.EnsureFresh(ctx)
		errs <- err
	}()
	cancel()
	if err := waitFor(t, errs, "cancelled waiter"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(release)
	value, err := cred.EnsureFresh(context.Background())
	if err != nil || value != "v" {
		t.Fatalf("expected shared fetch to complete, got %q %v", value, err)
	}
}

package resultcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
)

func TestGetCachesResult(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repoID := uuid.New()
	fp := Fingerprint(repoID, "Get", []dogma.Revision{5}, "/a.json")

	var calls int32
	compute := func(ctx context.Context) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return "value", 10, nil
	}

	v1, err := c.Get(context.Background(), repoID, fp, false, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Wait()
	v2, err := c.Get(context.Background(), repoID, fp, false, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if v1 != "value" || v2 != "value" {
		t.Errorf("got %v, %v, want \"value\" both times", v1, v2)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
}

func TestGetAbsoluteRevisionSurvivesInvalidation(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repoID := uuid.New()
	fp := Fingerprint(repoID, "Get", []dogma.Revision{5}, "/a.json")

	var calls int32
	compute := func(ctx context.Context) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return "value", 10, nil
	}

	if _, err := c.Get(context.Background(), repoID, fp, false, compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Wait()

	// A push invalidates HEAD-relative entries only; an absolute-revision
	// entry must survive.
	c.InvalidateRepository(repoID)

	if _, err := c.Get(context.Background(), repoID, fp, false, compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute called %d times after invalidation, want 1 (absolute revision should survive)", n)
	}
}

func TestGetHeadRelativeEntryInvalidatedOnPush(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repoID := uuid.New()
	fp := Fingerprint(repoID, "Get", []dogma.Revision{0}, "/a.json")

	var calls int32
	compute := func(ctx context.Context) (any, int64, error) {
		n := atomic.AddInt32(&calls, 1)
		return n, 10, nil
	}

	first, err := c.Get(context.Background(), repoID, fp, true, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Wait()
	if first != int32(1) {
		t.Fatalf("first = %v, want 1", first)
	}

	// Still valid: no push happened yet.
	cached, err := c.Get(context.Background(), repoID, fp, true, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cached != int32(1) {
		t.Errorf("cached = %v, want 1 (still cached)", cached)
	}

	c.InvalidateRepository(repoID)

	recomputed, err := c.Get(context.Background(), repoID, fp, true, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if recomputed != int32(2) {
		t.Errorf("recomputed = %v, want 2 (recomputed after invalidation)", recomputed)
	}
}

func TestGetConcurrentCallersShareOneCompute(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repoID := uuid.New()
	fp := Fingerprint(repoID, "Get", []dogma.Revision{1}, "/a.json")

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, int64, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return "value", 10, nil
	}

	const n = 8
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := c.Get(context.Background(), repoID, fp, false, compute)
			if err != nil {
				t.Error(err)
				return
			}
			results <- v
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("compute never started")
	}
	close(release)

	for i := 0; i < n; i++ {
		select {
		case v := <-results:
			if v != "value" {
				t.Errorf("result %d = %v, want \"value\"", i, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent Get to resolve")
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute called %d times concurrently, want exactly 1", n)
	}
}

func TestFingerprintStableAndDistinguishing(t *testing.T) {
	repoID := uuid.New()
	other := uuid.New()

	a := Fingerprint(repoID, "Get", []dogma.Revision{1}, "/a.json")
	b := Fingerprint(repoID, "Get", []dogma.Revision{1}, "/a.json")
	if a != b {
		t.Error("Fingerprint is not stable across identical inputs")
	}

	variants := []uint64{
		Fingerprint(repoID, "Find", []dogma.Revision{1}, "/a.json"),
		Fingerprint(repoID, "Get", []dogma.Revision{2}, "/a.json"),
		Fingerprint(repoID, "Get", []dogma.Revision{1}, "/b.json"),
		Fingerprint(other, "Get", []dogma.Revision{1}, "/a.json"),
	}
	for _, v := range variants {
		if v == a {
			t.Error("Fingerprint collided on a distinguishing input")
		}
	}
}

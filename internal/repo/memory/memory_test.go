package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/repo"
)

func addTarget(t *testing.T, s *Store) domain.Target {
	t.Helper()
	tgt, err := s.Create(context.Background(), domain.TargetInput{Type: "http", Host: "example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tgt
}

func result(ts time.Time) domain.ProbeResult {
	return domain.ProbeResult{Kind: domain.KindHTTP, Timestamp: ts, Outcome: domain.Success{StatusCode: 200, LatencyMS: 1}}
}

func TestMemoryStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := addTarget(t, s)
	b, err := s.Create(ctx, domain.TargetInput{Type: "squid", Host: "proxy.local"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == 0 || b.ID <= a.ID {
		t.Fatalf("ids not increasing: %d %d", a.ID, b.ID)
	}

	got, err := s.Get(ctx, b.ID)
	if err != nil || got.Port != 3128 || got.Kind != domain.KindProxy {
		t.Fatalf("Get: %+v err=%v", got, err)
	}
	all, _ := s.List(ctx)
	if len(all) != 2 || all[0].ID != a.ID {
		t.Fatalf("unexpected list: %+v", all)
	}
	proxies, _ := s.ListByKind(ctx, domain.KindProxy)
	if len(proxies) != 1 || proxies[0].ID != b.ID {
		t.Fatalf("unexpected proxies: %+v", proxies)
	}
	if _, err := s.Get(ctx, 999); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s)

	iv := 5
	got, err := s.Update(ctx, tgt.ID, domain.TargetPatch{Interval: &iv})
	if err != nil || got.Interval != 5 {
		t.Fatalf("Update: %+v err=%v", got, err)
	}
	if _, err := s.Update(ctx, 999, domain.TargetPatch{Interval: &iv}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s)

	base := time.Now()
	for i := 0; i < 105; i++ {
		if err := s.Append(ctx, tgt.ID, result(base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	got, _ := s.Recent(ctx, tgt.ID, 1000)
	if len(got) != repo.HistoryCap {
		t.Fatalf("want %d entries, got %d", repo.HistoryCap, len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.After(got[i].Timestamp) {
			t.Fatalf("not newest-first at %d", i)
		}
	}
	oldest := got[len(got)-1].Timestamp
	if !oldest.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("oldest 5 should be evicted, oldest kept is %v", oldest.Sub(base))
	}
}

func TestMemoryStore_OutOfOrderAndTies(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s)

	ts := time.Now()
	_ = s.Append(ctx, tgt.ID, result(ts))
	_ = s.Append(ctx, tgt.ID, result(ts.Add(-time.Minute))) // clock stepped back
	_ = s.Append(ctx, tgt.ID, result(ts))                   // tie with the first

	got, _ := s.Recent(ctx, tgt.ID, 10)
	if len(got) != 3 {
		t.Fatalf("want 3, got %d", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 1 || got[2].Seq != 2 {
		t.Fatalf("unexpected order: %d %d %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}
	latest, err := s.Latest(ctx, tgt.ID)
	if err != nil || latest.Seq != 3 {
		t.Fatalf("Latest: %+v err=%v", latest, err)
	}
}

func TestMemoryStore_DeleteClearsHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s)
	_ = s.Append(ctx, tgt.ID, result(time.Now()))

	if err := s.Delete(ctx, tgt.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := s.Recent(ctx, tgt.ID, 10)
	if len(got) != 0 {
		t.Fatalf("history survived delete: %d", len(got))
	}
	if _, err := s.Latest(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := s.Append(ctx, tgt.ID, result(time.Now())); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("append for deleted target should fail, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAppendsStayCapped(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Append(ctx, tgt.ID, result(time.Now()))
				if got, _ := s.Recent(ctx, tgt.ID, 0); len(got) > repo.HistoryCap {
					t.Errorf("reader saw %d entries", len(got))
					return
				}
			}
		}()
	}
	wg.Wait()
	got, _ := s.Recent(ctx, tgt.ID, 0)
	if len(got) != repo.HistoryCap {
		t.Fatalf("want %d, got %d", repo.HistoryCap, len(got))
	}
}

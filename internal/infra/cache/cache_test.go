package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[*domain.Product](5 * time.Minute)
	defer c.Stop()

	c.Set("prod-1", &domain.Product{ID: "prod-1", SellerAccountID: "seller-1"})
	val, ok := c.Get("prod-1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val.SellerAccountID != "seller-1" {
		t.Errorf("expected seller 'seller-1', got '%s'", val.SellerAccountID)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Stop()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_GetOrLoad_CollapsesConcurrentMisses(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "loaded", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrLoad(context.Background(), "k", load)
			if err != nil || v != "loaded" {
				t.Errorf("unexpected result %q, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}

	_, hit, err := c.GetOrLoad(context.Background(), "k", load)
	if err != nil || !hit {
		t.Errorf("expected cache hit after load, hit=%v err=%v", hit, err)
	}
}

func TestCache_GetOrLoad_DoesNotCacheErrors(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	boom := errors.New("boom")
	_, _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("errors must not be cached")
	}
}

package cache

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	e := &Entry{Key: "k", Response: "hello", CreatedAt: time.Now(), TTL: time.Minute}
	s.Put("k", e)

	got, ok := s.Get("k")
	if !ok {
		t.Fatal("Expected a hit after Put")
	}
	if got.Response != "hello" {
		t.Errorf("Expected 'hello', got %s", got.Response)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	e := &Entry{Key: "k", Response: "stale", CreatedAt: time.Now().Add(-2 * time.Minute), TTL: time.Minute}
	s.Put("k", e)

	if _, ok := s.Get("k"); ok {
		t.Error("Expected a miss for an expired entry")
	}
	if s.Len() != 0 {
		t.Error("Expected lazy eviction to remove the expired entry")
	}
}

func TestMemoryStore_OverwriteResetsTTL(t *testing.T) {
	s := NewMemoryStore()
	s.Put("k", &Entry{Key: "k", Response: "old", CreatedAt: time.Now().Add(-2 * time.Minute), TTL: time.Minute})
	s.Put("k", &Entry{Key: "k", Response: "new", CreatedAt: time.Now(), TTL: time.Minute})

	got, ok := s.Get("k")
	if !ok {
		t.Fatal("Expected a hit after overwrite")
	}
	if got.Response != "new" {
		t.Errorf("Expected 'new', got %s", got.Response)
	}
}

func TestExactStore_MemoryOnly(t *testing.T) {
	s := NewExactStore(nil, time.Second, time.Second)
	ctx := context.Background()

	s.Put(ctx, "k", &Entry{Key: "k", Response: "v", TTL: time.Minute, CreatedAt: time.Now()})
	got, ok := s.Get(ctx, "k")
	if !ok || got.Response != "v" {
		t.Fatalf("Expected round-trip via memory store, got ok=%v", ok)
	}
	if s.Backend() != BackendMemory {
		t.Errorf("Expected memory backend, got %s", s.Backend())
	}
}

func TestExactStore_FallsBackWhenRedisUnreachable(t *testing.T) {
	// No server listens here; every op fails fast and must degrade to
	// the in-process store without surfacing an error.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	s := NewExactStore(rdb, 100*time.Millisecond, time.Hour)
	ctx := context.Background()

	s.Put(ctx, "k", &Entry{Key: "k", Response: "v", TTL: time.Minute, CreatedAt: time.Now()})
	got, ok := s.Get(ctx, "k")
	if !ok {
		t.Fatal("Expected a hit via the fallback store")
	}
	if got.Response != "v" {
		t.Errorf("Expected 'v', got %s", got.Response)
	}
	if s.Backend() != BackendMemory {
		t.Errorf("Expected degraded (memory) backend, got %s", s.Backend())
	}
}

// fakeRedis answers just enough RESP for the client handshake and the
// health-check PING: HELLO is rejected (forcing RESP2), CLIENT/SET get
// +OK, GET always replies nil. Stop closes the listener and any open
// connections.
func fakeRedis(t *testing.T, addr string) (stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("failed to listen on %s: %v", addr, err)
	}

	var mu sync.Mutex
	var conns []net.Conn

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()

			go func(c net.Conn) {
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					switch strings.ToUpper(strings.TrimSpace(line)) {
					case "HELLO":
						c.Write([]byte("-ERR unknown command 'HELLO'\r\n"))
					case "CLIENT":
						c.Write([]byte("+OK\r\n"))
					case "PING":
						c.Write([]byte("+PONG\r\n"))
					case "GET":
						c.Write([]byte("$-1\r\n"))
					case "SET":
						c.Write([]byte("+OK\r\n"))
					}
				}
			}(conn)
		}
	}()

	return func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	}
}

func TestExactStore_RecoversWhenRedisReturns(t *testing.T) {
	// Grab a free port, then leave it dead so the first op degrades.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	s := NewExactStore(rdb, 200*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	s.Put(ctx, "k", &Entry{Key: "k", Response: "v", TTL: time.Minute, CreatedAt: time.Now()})
	if s.Backend() != BackendMemory {
		t.Fatalf("Expected degraded backend after failed put, got %s", s.Backend())
	}

	// Bring redis back on the same address; once the health interval
	// elapses, the next op's PING must promote the store.
	stop := fakeRedis(t, addr)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Backend() != BackendRedis {
		if time.Now().After(deadline) {
			t.Fatal("Store never promoted back to the redis backend")
		}
		time.Sleep(25 * time.Millisecond)
		s.Get(ctx, "k")
	}
}

func TestExactStore_HealthCheckThrottled(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	s := NewExactStore(rdb, 100*time.Millisecond, time.Hour)
	ctx := context.Background()

	// First op trips degraded mode.
	s.Put(ctx, "a", &Entry{Key: "a", Response: "1", TTL: time.Minute, CreatedAt: time.Now()})

	// Subsequent ops stay on the fallback until the health interval
	// elapses; they must keep working.
	start := time.Now()
	for i := 0; i < 5; i++ {
		s.Put(ctx, "b", &Entry{Key: "b", Response: "2", TTL: time.Minute, CreatedAt: time.Now()})
		if _, ok := s.Get(ctx, "b"); !ok {
			t.Fatal("Fallback store lost an entry")
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Degraded-mode ops should not retry redis each time (took %v)", elapsed)
	}
}

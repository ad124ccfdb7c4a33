package booking

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/queue"
)

// silentBrokerURL points at a listener that accepts connections and never
// speaks AMQP.
func silentBrokerURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestMutationsDoNotWaitForSilentBroker(t *testing.T) {
	f := newFixture(t)
	pub := queue.NewPublisher(silentBrokerURL(t), log.DefaultLogger, queue.WithDialTimeout(2*time.Second))
	t.Cleanup(func() { pub.Close() })
	engine := NewEngine(f.store, f.store, f.clock, testPolicy(), log.DefaultLogger)
	m := NewManager(engine, pub, log.DefaultLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()

	a, err := m.CreateBooking(ctx, ReserveRequest{RequesterRef: "alice", TripID: f.tripID, Seats: []int{1, 2}})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	b, err := m.CreateBooking(ctx, ReserveRequest{RequesterRef: "bob", TripID: f.tripID, Seats: []int{3}})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if _, err := m.Confirm(ctx, a.BookingID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := m.Cancel(ctx, b.BookingID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("mutations outlived their deadline: %s", time.Since(start))
	}
}

func TestSweepDoesNotWaitForSilentBroker(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 10; n++ {
		f.reserve(t, "alice", n)
	}
	f.clock.Advance(3 * time.Minute)

	pub := queue.NewPublisher(silentBrokerURL(t), log.DefaultLogger, queue.WithDialTimeout(2*time.Second))
	t.Cleanup(func() { pub.Close() })
	sw := NewSweeper(f.store, f.clock, testPolicy(), pub, nil, log.DefaultLogger)

	start := time.Now()
	res, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Expired != 10 {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("sweep took %s", elapsed)
	}
	if s := f.seat(t, 10); s.Status != model.SeatAvailable {
		t.Fatalf("seat 10 = %+v", s)
	}
}

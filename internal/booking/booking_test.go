package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/queue"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository/memstore"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []queue.BookingEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []queue.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store   *memstore.Store
	clock   *clock.FakeClock
	events  *recorder
	manager *Manager
	sweeper *Sweeper
	tripID  uint64
}

func testPolicy() config.Policy {
	p := config.DefaultPolicy()
	p.ConflictBackoff = time.Millisecond
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), clock: clock.Fake(epoch), events: &recorder{}}
	trip := &model.Trip{BusName: "Volvo 9400", Origin: "Pune", Destination: "Goa", TotalSeats: 40, PriceCents: 500}
	if _, err := f.store.CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	f.tripID = trip.ID
	f.wire(f.store)
	return f
}

// wire rebuilds manager and sweeper on top of store.
func (f *fixture) wire(store repository.Store) {
	engine := NewEngine(store, f.store, f.clock, testPolicy(), log.DefaultLogger)
	f.manager = NewManager(engine, f.events, log.DefaultLogger)
	f.sweeper = NewSweeper(store, f.clock, testPolicy(), f.events, nil, log.DefaultLogger)
}

func (f *fixture) reserve(t *testing.T, requester string, seats ...int) *ReserveResult {
	t.Helper()
	res, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: requester, TripID: f.tripID, Seats: seats})
	if err != nil {
		t.Fatalf("reserve %v: %v", seats, err)
	}
	return res
}

func (f *fixture) seat(t *testing.T, n int) model.Seat {
	t.Helper()
	seats, err := f.store.ListSeats(context.Background(), f.tripID)
	if err != nil {
		t.Fatalf("ListSeats: %v", err)
	}
	for _, s := range seats {
		if s.Number == n {
			return s
		}
	}
	t.Fatalf("seat %d not found", n)
	return model.Seat{}
}

func (f *fixture) booking(t *testing.T, id string) *model.Booking {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBooking(%s): %v", id, err)
	}
	return b
}

// TestReserveSingleSeatUnderContention checks the engine's check-then-claim
// logic.  memstore runs one transaction at a time, so it cannot catch a
// row-locking regression; TestMySQLSeatContention in
// mysql_integration_test.go covers FOR UPDATE against a real server.
func TestReserveSingleSeatUnderContention(t *testing.T) {
	f := newFixture(t)
	const callers = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: "racer", TripID: f.tripID, Seats: []int{40}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, res.BookingID)
			case errors.Is(err, ErrSeatsTemporarilyReserved), errors.Is(err, ErrSeatsAlreadyBooked):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(successes) != 1 || rejected != callers-1 {
		t.Fatalf("successes=%d rejected=%d, want 1 and %d", len(successes), rejected, callers-1)
	}
	if s := f.seat(t, 40); s.Status != model.SeatReserved || s.BookingID != successes[0] {
		t.Fatalf("seat 40 = %+v", s)
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	holder := f.reserve(t, "alice", 5)

	_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: "bob", TripID: f.tripID, Seats: []int{6, 5, 4}})
	if !errors.Is(err, ErrSeatsTemporarilyReserved) {
		t.Fatalf("err = %v, want ErrSeatsTemporarilyReserved", err)
	}
	if got := UnavailableSeats(err); len(got) != 1 || got[0] != 5 {
		t.Fatalf("unavailable = %v, want [5]", got)
	}
	for _, n := range []int{4, 6} {
		if s := f.seat(t, n); s.Status != model.SeatAvailable || s.BookingID != "" {
			t.Fatalf("seat %d changed: %+v", n, s)
		}
	}
	if s := f.seat(t, 5); s.BookingID != holder.BookingID {
		t.Fatalf("seat 5 owner = %q, want %q", s.BookingID, holder.BookingID)
	}
	if list, _ := f.manager.ListBookings(context.Background(), "bob"); len(list) != 0 {
		t.Fatalf("bob has %d bookings, want 0", len(list))
	}
}

func TestReserveRejectsBookedSeats(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, "alice", 7, 8)
	if _, err := f.manager.Confirm(context.Background(), res.BookingID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: "bob", TripID: f.tripID, Seats: []int{8, 9}})
	if !errors.Is(err, ErrSeatsAlreadyBooked) {
		t.Fatalf("err = %v, want ErrSeatsAlreadyBooked", err)
	}
	if got := UnavailableSeats(err); len(got) != 1 || got[0] != 8 {
		t.Fatalf("unavailable = %v, want [8]", got)
	}
}

func TestHoldThenConfirm(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, "alice", 22, 20, 21)

	if res.Status != model.BookingPending || res.TotalPriceCents != 1500 {
		t.Fatalf("result = %+v", res)
	}
	if want := []int{20, 21, 22}; len(res.Seats) != 3 || res.Seats[0] != want[0] || res.Seats[2] != want[2] {
		t.Fatalf("seats = %v, want %v", res.Seats, want)
	}
	if !res.ExpiryTime.Equal(epoch.Add(2 * time.Minute)) {
		t.Fatalf("expiry = %v", res.ExpiryTime)
	}

	f.clock.Advance(time.Minute)
	b, err := f.manager.Confirm(context.Background(), res.BookingID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if b.Status != model.BookingConfirmed || f.booking(t, res.BookingID).Status != model.BookingConfirmed {
		t.Fatalf("booking not confirmed: %+v", b)
	}
	for _, n := range res.Seats {
		if s := f.seat(t, n); s.Status != model.SeatBooked || s.BookingID != res.BookingID {
			t.Fatalf("seat %d = %+v", n, s)
		}
	}
	got := f.events.types()
	if len(got) != 2 || got[0] != queue.EventReserved || got[1] != queue.EventConfirmed {
		t.Fatalf("events = %v", got)
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	confirmed := f.reserve(t, "alice", 1)
	if _, err := f.manager.Confirm(ctx, confirmed.BookingID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	cancelled := f.reserve(t, "alice", 2)
	if _, err := f.manager.Cancel(ctx, cancelled.BookingID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	for _, id := range []string{confirmed.BookingID, cancelled.BookingID} {
		if _, err := f.manager.Confirm(ctx, id); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Confirm(%s) err = %v, want ErrInvalidTransition", id, err)
		}
		if _, err := f.manager.Cancel(ctx, id); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Cancel(%s) err = %v, want ErrInvalidTransition", id, err)
		}
	}
	if s := f.seat(t, 1); s.Status != model.SeatBooked {
		t.Fatalf("seat 1 = %+v", s)
	}
	if s := f.seat(t, 2); s.Status != model.SeatAvailable {
		t.Fatalf("seat 2 = %+v", s)
	}
	if _, err := f.manager.Confirm(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Confirm(missing) err = %v, want ErrNotFound", err)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, "alice", 3)
	f.clock.Advance(2 * time.Minute)

	if _, err := f.manager.Confirm(context.Background(), res.BookingID); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if b := f.booking(t, res.BookingID); b.Status != model.BookingPending {
		t.Fatalf("status = %s, want PENDING", b.Status)
	}
	if s := f.seat(t, 3); s.Status != model.SeatReserved {
		t.Fatalf("seat 3 = %+v", s)
	}
}

func TestCancelReleasesSeats(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, "alice", 10, 11)
	f.clock.Advance(30 * time.Second)

	b, err := f.manager.Cancel(context.Background(), res.BookingID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if b.Status != model.BookingFailed || b.ExpiredAt == nil || !b.ExpiredAt.Equal(epoch.Add(30*time.Second)) {
		t.Fatalf("booking = %+v", b)
	}
	for _, n := range []int{10, 11} {
		if s := f.seat(t, n); s.Status != model.SeatAvailable || s.BookingID != "" {
			t.Fatalf("seat %d = %+v", n, s)
		}
	}
	f.reserve(t, "bob", 10, 11)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		seats []int
		bad   []int
	}{
		{"empty", nil, nil},
		{"zero", []int{0, 1}, []int{0}},
		{"beyond trip", []int{39, 41}, []int{41}},
		{"duplicate", []int{3, 4, 3}, []int{3}},
		{"too many", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, nil},
	}
	for _, tc := range cases {
		_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: "x", TripID: f.tripID, Seats: tc.seats})
		if !errors.Is(err, ErrInvalidSeats) {
			t.Fatalf("%s: err = %v, want ErrInvalidSeats", tc.name, err)
		}
		if got := UnavailableSeats(err); len(got) != len(tc.bad) || (len(got) > 0 && got[0] != tc.bad[0]) {
			t.Fatalf("%s: unavailable = %v, want %v", tc.name, got, tc.bad)
		}
	}
	_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{TripID: 999, Seats: []int{1}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown trip err = %v, want ErrNotFound", err)
	}
}

func TestReserveMissingLedgerRows(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTrip(model.Trip{TotalSeats: 10, PriceCents: 100})
	_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{TripID: id, Seats: []int{2, 1}})
	if !errors.Is(err, ErrInvalidSeats) {
		t.Fatalf("err = %v, want ErrInvalidSeats", err)
	}
	if got := UnavailableSeats(err); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unavailable = %v, want [1 2]", got)
	}
}

func TestReserveReclaimsExpiredHold(t *testing.T) {
	f := newFixture(t)
	stale := f.reserve(t, "alice", 1, 2)
	f.clock.Advance(2*time.Minute + time.Second)

	fresh := f.reserve(t, "bob", 2)
	old := f.booking(t, stale.BookingID)
	if old.Status != model.BookingFailed || old.ExpiredAt == nil {
		t.Fatalf("stale booking = %+v", old)
	}
	if s := f.seat(t, 1); s.Status != model.SeatAvailable {
		t.Fatalf("seat 1 = %+v", s)
	}
	if s := f.seat(t, 2); s.BookingID != fresh.BookingID {
		t.Fatalf("seat 2 = %+v", s)
	}
	got := f.events.types()
	if len(got) != 3 || got[1] != queue.EventExpired || got[2] != queue.EventReserved {
		t.Fatalf("events = %v", got)
	}
}

func TestExpiryStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.reserve(t, "alice", 4)

	st, err := f.manager.ExpiryStatus(ctx, res.BookingID)
	if err != nil {
		t.Fatalf("ExpiryStatus: %v", err)
	}
	if !st.WillExpire || st.HasExpired || *st.SecondsRemaining != 120 {
		t.Fatalf("fresh status = %+v", st)
	}

	f.clock.Advance(90*time.Second + 500*time.Millisecond)
	st, _ = f.manager.ExpiryStatus(ctx, res.BookingID)
	if *st.SecondsRemaining != 30 {
		t.Fatalf("seconds remaining = %d, want 30", *st.SecondsRemaining)
	}

	f.clock.Advance(time.Minute)
	st, _ = f.manager.ExpiryStatus(ctx, res.BookingID)
	if !st.HasExpired || *st.SecondsRemaining != 0 || st.Status != model.BookingPending {
		t.Fatalf("lapsed status = %+v", st)
	}

	if _, err := f.manager.Cancel(ctx, res.BookingID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, _ = f.manager.ExpiryStatus(ctx, res.BookingID)
	if st.WillExpire || st.HasExpired || st.SecondsRemaining != nil || st.Status != model.BookingFailed {
		t.Fatalf("terminal status = %+v", st)
	}
	if _, err := f.manager.ExpiryStatus(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestAvailabilityOccupancy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booked := f.reserve(t, "alice", 1, 2, 3)
	if _, err := f.manager.Confirm(ctx, booked.BookingID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	f.reserve(t, "bob", 4, 5)

	sum, err := f.manager.Availability(ctx, f.tripID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if sum.Total != 40 || len(sum.Booked) != 3 || len(sum.Reserved) != 2 || len(sum.Available) != 35 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.OccupancyPercentage != 13 {
		t.Fatalf("occupancy = %d, want 13", sum.OccupancyPercentage)
	}
}

func TestAvailabilityInitializesLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.store.AddTrip(model.Trip{TotalSeats: 40, PriceCents: 100})

	sum, err := f.manager.Availability(ctx, id)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(sum.Available) != 40 || sum.OccupancyPercentage != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := f.manager.Availability(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown trip err = %v", err)
	}
}

// flakyStore aborts the first n transactions with a store conflict.
type flakyStore struct {
	repository.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) WithTx(ctx context.Context, fn repository.TxFunc) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return repository.ErrStoreConflict
	}
	return s.Store.WithTx(ctx, fn)
}

func TestStoreConflictIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{Store: f.store, failures: 1}
	f.wire(flaky)

	res := f.reserve(t, "alice", 9)
	if flaky.calls != 2 {
		t.Fatalf("calls = %d, want 2", flaky.calls)
	}

	flaky.failures, flaky.calls = 2, 0
	_, err := f.manager.Confirm(context.Background(), res.BookingID)
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("err = %v, want ErrStoreConflict", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("calls = %d, want 2", flaky.calls)
	}
	if b := f.booking(t, res.BookingID); b.Status != model.BookingPending {
		t.Fatalf("status = %s, want PENDING", b.Status)
	}
}

func TestSeatConflictsAreNotRetried(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, "alice", 9)
	flaky := &flakyStore{Store: f.store}
	f.wire(flaky)

	_, err := f.manager.CreateBooking(context.Background(), ReserveRequest{RequesterRef: "bob", TripID: f.tripID, Seats: []int{9}})
	if !errors.Is(err, ErrSeatsTemporarilyReserved) {
		t.Fatalf("err = %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("calls = %d, want 1", flaky.calls)
	}
}

package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/handler"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository/memstore"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/router"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/utils"
)

const secret = "handler-secret"

type app struct {
	e      *echo.Echo
	store  *memstore.Store
	clock  *clock.FakeClock
	tripID uint64
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{
		e:     echo.New(),
		store: memstore.New(),
		clock: clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	trip := &model.Trip{BusName: "Sleeper 2+1", Origin: "Pune", Destination: "Goa", TotalSeats: 40, PriceCents: 500}
	if _, err := a.store.CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	a.tripID = trip.ID

	policy := config.DefaultPolicy()
	engine := booking.NewEngine(a.store, a.store, a.clock, policy, nil)
	mgr := booking.NewManager(engine, nil, nil)
	sw := booking.NewSweeper(a.store, a.clock, policy, nil, nil, nil)

	bh := handler.NewBookingHandler(mgr, a.store, nil)
	router.RegisterRoutes(a.e, nil)
	router.RegisterPublic(a.e, bh, nil)
	router.RegisterCustomer(a.e, bh, secret, nil)
	router.RegisterAdmin(a.e, handler.NewAdminHandler(a.store, a.store, sw, nil), secret)
	return a
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	return tok.Token
}

func (a *app) do(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func (a *app) tripPath(suffix string) string {
	return "/v1/trips/" + idStr(a.tripID) + suffix
}

func idStr(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func ints(v any) []int {
	raw, _ := v.([]any)
	out := make([]int, 0, len(raw))
	for _, x := range raw {
		out = append(out, int(x.(float64)))
	}
	return out
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodGet, "/healthz", "", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, body)
	}
}

func TestBookingLifecycle(t *testing.T) {
	a := newApp(t)
	alice := token(t, "alice", middleware.RoleCustomer)

	code, body := a.do(t, http.MethodPost, a.tripPath("/bookings"), alice, `{"seats":[22,20,21]}`)
	if code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}
	id, _ := body["booking_id"].(string)
	if id == "" || body["status"] != "PENDING" || body["total_price_cents"].(float64) != 1500 {
		t.Fatalf("create body = %v", body)
	}
	if got := ints(body["seats"]); len(got) != 3 || got[0] != 20 || got[2] != 22 {
		t.Fatalf("seats = %v, want sorted", got)
	}

	code, body = a.do(t, http.MethodGet, a.tripPath("/seats"), "", "")
	if code != http.StatusOK || len(ints(body["reserved"])) != 3 || len(ints(body["available"])) != 37 {
		t.Fatalf("seats = %d %v", code, body)
	}

	a.clock.Advance(30 * time.Second)
	code, body = a.do(t, http.MethodGet, "/v1/bookings/"+id+"/expiry", alice, "")
	if code != http.StatusOK || body["will_expire"] != true || body["seconds_remaining"].(float64) != 90 {
		t.Fatalf("expiry = %d %v", code, body)
	}

	code, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", alice, "")
	if code != http.StatusOK || body["status"] != "CONFIRMED" {
		t.Fatalf("confirm = %d %v", code, body)
	}
	code, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", alice, "")
	if code != http.StatusConflict {
		t.Fatalf("second confirm = %d %v", code, body)
	}

	code, body = a.do(t, http.MethodGet, "/v1/my-bookings", alice, "")
	items, _ := body["items"].([]any)
	if code != http.StatusOK || len(items) != 1 {
		t.Fatalf("my-bookings = %d %v", code, body)
	}

	_, body = a.do(t, http.MethodGet, a.tripPath("/seats"), "", "")
	if len(ints(body["booked"])) != 3 {
		t.Fatalf("booked = %v", body["booked"])
	}
}

func TestCreateBookingRejections(t *testing.T) {
	a := newApp(t)
	alice := token(t, "alice", middleware.RoleCustomer)
	bob := token(t, "bob", middleware.RoleCustomer)

	if code, _ := a.do(t, http.MethodPost, a.tripPath("/bookings"), alice, `{"seats":[5,6]}`); code != http.StatusCreated {
		t.Fatalf("first create = %d", code)
	}

	code, body := a.do(t, http.MethodPost, a.tripPath("/bookings"), bob, `{"seats":[6,7]}`)
	if code != http.StatusConflict {
		t.Fatalf("overlap = %d %v", code, body)
	}
	if got := ints(body["unavailable"]); len(got) != 1 || got[0] != 6 {
		t.Fatalf("unavailable = %v", got)
	}

	code, body = a.do(t, http.MethodPost, a.tripPath("/bookings"), bob, `{"seats":[0,41]}`)
	if code != http.StatusBadRequest || len(ints(body["unavailable"])) != 2 {
		t.Fatalf("out of range = %d %v", code, body)
	}
	if code, _ := a.do(t, http.MethodPost, a.tripPath("/bookings"), bob, `{"seats":[]}`); code != http.StatusBadRequest {
		t.Fatalf("empty = %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/v1/trips/999/bookings", bob, `{"seats":[1]}`); code != http.StatusNotFound {
		t.Fatalf("unknown trip = %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/v1/trips/abc/bookings", bob, `{"seats":[1]}`); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, a.tripPath("/bookings"), "", `{"seats":[1]}`); code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", code)
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	a := newApp(t)
	alice := token(t, "alice", middleware.RoleCustomer)
	mallory := token(t, "mallory", middleware.RoleCustomer)
	admin := token(t, "ops", middleware.RoleAdmin)

	_, body := a.do(t, http.MethodPost, a.tripPath("/bookings"), alice, `{"seats":[9]}`)
	id := body["booking_id"].(string)

	for _, path := range []string{"/v1/bookings/" + id, "/v1/bookings/" + id + "/expiry"} {
		if code, _ := a.do(t, http.MethodGet, path, mallory, ""); code != http.StatusForbidden {
			t.Fatalf("GET %s by stranger = %d", path, code)
		}
	}
	if code, _ := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/cancel", mallory, ""); code != http.StatusForbidden {
		t.Fatalf("cancel by stranger = %d", code)
	}
	if code, _ := a.do(t, http.MethodGet, "/v1/bookings/missing", alice, ""); code != http.StatusNotFound {
		t.Fatalf("missing booking = %d", code)
	}

	code, body := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/cancel", admin, "")
	if code != http.StatusOK || body["status"] != "FAILED" {
		t.Fatalf("admin cancel = %d %v", code, body)
	}
	_, body = a.do(t, http.MethodGet, a.tripPath("/seats"), "", "")
	if len(ints(body["available"])) != 40 {
		t.Fatalf("seat 9 not released: %v", body)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	a := newApp(t)
	alice := token(t, "alice", middleware.RoleCustomer)
	_, body := a.do(t, http.MethodPost, a.tripPath("/bookings"), alice, `{"seats":[3]}`)
	id := body["booking_id"].(string)

	a.clock.Advance(2 * time.Minute)
	code, body := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", alice, "")
	if code != http.StatusGone {
		t.Fatalf("confirm after expiry = %d %v", code, body)
	}
	_, body = a.do(t, http.MethodGet, "/v1/bookings/"+id+"/expiry", alice, "")
	if body["has_expired"] != true || body["seconds_remaining"].(float64) != 0 {
		t.Fatalf("expiry = %v", body)
	}
}

func TestAdminEndpoints(t *testing.T) {
	a := newApp(t)
	admin := token(t, "ops", middleware.RoleAdmin)
	alice := token(t, "alice", middleware.RoleCustomer)

	trip := `{"bus_id":7,"bus_name":"Night Rider","origin":"Delhi","destination":"Jaipur","starts_at":"2026-04-01T22:00:00Z","total_seats":30,"price_cents":900}`
	if code, _ := a.do(t, http.MethodPost, "/v1/admin/trips", alice, trip); code != http.StatusForbidden {
		t.Fatalf("customer create trip = %d", code)
	}
	code, body := a.do(t, http.MethodPost, "/v1/admin/trips", admin, trip)
	if code != http.StatusCreated || body["seats_created"].(float64) != 30 {
		t.Fatalf("create trip = %d %v", code, body)
	}
	created := body["trip"].(map[string]any)
	newID := uint64(created["id"].(float64))

	code, body = a.do(t, http.MethodPost, "/v1/admin/trips/"+idStr(newID)+"/seats", admin, "")
	if code != http.StatusOK || body["seats_created"].(float64) != 0 {
		t.Fatalf("re-init seats = %d %v", code, body)
	}
	if code, _ := a.do(t, http.MethodPost, "/v1/admin/trips/999/seats", admin, ""); code != http.StatusNotFound {
		t.Fatalf("init unknown trip = %d", code)
	}

	bad := `{"origin":"Delhi","destination":"Jaipur","starts_at":"2026-04-01T22:00:00Z","total_seats":500}`
	if code, _ := a.do(t, http.MethodPost, "/v1/admin/trips", admin, bad); code != http.StatusBadRequest {
		t.Fatalf("oversized trip = %d", code)
	}

	code, body = a.do(t, http.MethodGet, "/v1/trips", "", "")
	if items, _ := body["items"].([]any); code != http.StatusOK || len(items) != 2 {
		t.Fatalf("list trips = %d %v", code, body)
	}

	a.do(t, http.MethodPost, a.tripPath("/bookings"), alice, `{"seats":[1,2]}`)
	a.clock.Advance(3 * time.Minute)
	code, body = a.do(t, http.MethodPost, "/v1/admin/sweeps", admin, "")
	if code != http.StatusOK || body["expired"].(float64) != 1 {
		t.Fatalf("sweep = %d %v", code, body)
	}
}

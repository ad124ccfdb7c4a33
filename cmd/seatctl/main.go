// seatctl is the operator tool for the seat ledger.  It talks to the
// database directly, so it works while the HTTP service is down.
//
//	seatctl init-seats --trip 3
//	seatctl summary --trip 3
//	seatctl sweep
//	seatctl token --sub ops --role ADMIN --ttl 1h
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/database"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/utils"
)

const usage = `usage: seatctl <command> [flags]

commands:
  init-seats   create missing seat rows of a trip
  summary      print seat availability of a trip
  sweep        expire lapsed holds once
  token        mint an access token for testing
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init-seats":
		return initSeats(rest, out)
	case "summary":
		return summary(rest, out)
	case "sweep":
		return sweep(rest, out)
	case "token":
		return token(rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
}

func tripFlags(name string, args []string) (uint64, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	trip := fs.Uint64("trip", 0, "trip id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *trip == 0 {
		return 0, errors.New("--trip is required")
	}
	return *trip, nil
}

// backend opens the MySQL store from the same DB_* variables the server
// reads.
type backend struct {
	store repository.Store
	trips repository.TripCatalog
	close func() error
}

func openBackend() (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver != config.DriverMySQL {
		return nil, fmt.Errorf("seatctl needs STORE_DRIVER=%s", config.DriverMySQL)
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	return &backend{store: repository.NewSQLStore(db), trips: repository.NewTripRepo(db), close: db.Close}, nil
}

func initSeats(args []string, out io.Writer) error {
	tripID, err := tripFlags("init-seats", args)
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.close()
	ctx := context.Background()
	trip, err := b.trips.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	created, err := b.store.InitializeSeats(ctx, tripID, trip.TotalSeats)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "trip %d: %d of %d seats created\n", tripID, created, trip.TotalSeats)
	return nil
}

func summary(args []string, out io.Writer) error {
	tripID, err := tripFlags("summary", args)
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.close()
	ctx := context.Background()
	trip, err := b.trips.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	seats, err := b.store.ListSeats(ctx, tripID)
	if err != nil {
		return err
	}
	return writeJSON(out, model.Summarize(trip.ID, trip.TotalSeats, seats))
}

func sweep(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	batch := fs.Int("batch", 0, "max bookings to expire (default BOOKING_SWEEP_BATCH)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	policy, err := config.LoadPolicy()
	if err != nil {
		return err
	}
	if *batch > 0 {
		policy.SweepBatchSize = *batch
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.close()
	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelWarn))
	sw := booking.NewSweeper(b.store, clock.Real(), policy, nil, nil, logger)
	res, err := sw.Sweep(context.Background())
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func token(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	sub := fs.String("sub", "", "subject (requester reference)")
	role := fs.String("role", "CUSTOMER", "CUSTOMER or ADMIN")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" || *secret == "" {
		return errors.New("--sub and a signing secret are required")
	}
	tok, err := utils.NewAccessToken(*secret, *sub, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok.Token)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

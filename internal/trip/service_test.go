package trip_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/payment"
	"github.com/transitpay/transitpay/internal/transit"
	"github.com/transitpay/transitpay/internal/trip"
)

// Test fixture: a two-stop route through Kathmandu, roughly 1 km long.
var (
	stopA    = geo.Coordinate{Lon: 85.0, Lat: 27.0}
	stopB    = geo.Coordinate{Lon: 85.01, Lat: 27.0}
	midPath  = geo.Coordinate{Lon: 85.005, Lat: 27.0}
	offRoute = geo.Coordinate{Lon: 85.005, Lat: 27.1}
)

// offPeak is a quiet mid-afternoon moment.
var offPeak = time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRecorder) Record(_ context.Context, _ string, _ geo.Coordinate, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc      *trip.Service
	ledger   *ledger.Service
	provider *payment.MemoryProvider
	recorder *fakeRecorder
	wallet   *ledger.Wallet

	// boardStop is stop A; tests attach pricing rules to it.
	boardStop *transit.Stop
}

func newFixture(t *testing.T, balance float64) *fixture {
	t.Helper()
	ctx := context.Background()

	transitRepo := transit.NewMemoryRepository()

	a := &transit.Stop{ID: "stp_a", Code: "A", Name: "Ratna Park", Coordinate: stopA}
	b := &transit.Stop{ID: "stp_b", Code: "B", Name: "Tripureshwor", Coordinate: stopB}
	require.NoError(t, transitRepo.CreateStop(ctx, a))
	require.NoError(t, transitRepo.CreateStop(ctx, b))

	route := &transit.Route{
		ID:     "rte_1",
		Code:   "R1",
		Name:   "Ring Road",
		Path:   []geo.Coordinate{stopA, stopB},
		Stops:  []transit.RouteStop{{Stop: a, Order: 0}, {Stop: b, Order: 1}},
		Active: true,
	}
	require.NoError(t, transitRepo.CreateRoute(ctx, route))
	require.NoError(t, transitRepo.CreateVehicle(ctx, &transit.Vehicle{
		ID: "veh_1", Number: "BA 2 KHA 1234", RouteID: "rte_1", Active: true,
	}))

	store := ledger.NewMemoryStore()
	provider := payment.NewMemoryProvider()
	ledgerSvc := ledger.NewService(store, provider, nil, nil, zerolog.Nop())

	w, err := ledgerSvc.CreateWallet(ctx, "usr_rider", ledger.OwnerKindUser, "")
	require.NoError(t, err)
	if balance > 0 {
		fund(t, ledgerSvc, provider, w.ID, balance)
	}

	recorder := &fakeRecorder{}
	svc := trip.NewService(trip.NewMemoryRepository(), transitRepo, ledgerSvc, nil, recorder, zerolog.Nop())

	return &fixture{svc: svc, ledger: ledgerSvc, provider: provider, recorder: recorder, wallet: w, boardStop: a}
}

func fund(t *testing.T, svc *ledger.Service, provider *payment.MemoryProvider, walletID string, amount float64) {
	t.Helper()
	ctx := context.Background()

	txn, intent, err := svc.InitiateTopUp(ctx, walletID, amount)
	require.NoError(t, err)
	provider.MarkSucceeded(intent.ID)
	_, err = svc.ConfirmTopUp(ctx, walletID, txn.ID)
	require.NoError(t, err)
}

func tapAt(loc geo.Coordinate, at time.Time) trip.TapInput {
	return trip.TapInput{
		UserID:    "usr_rider",
		VehicleID: "veh_1",
		Location:  loc,
		At:        at,
	}
}

func TestTap_BoardThenExit(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	board, err := f.svc.Tap(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)
	assert.Equal(t, trip.ActionBoard, board.Action)
	assert.Equal(t, "stp_a", board.Leg.BoardStopID)
	assert.Equal(t, trip.StatusInProgress, board.Trip.Status)
	assert.Nil(t, board.Fare)

	exit, err := f.svc.Tap(ctx, tapAt(stopB, offPeak.Add(20*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, trip.ActionExit, exit.Action)
	assert.Equal(t, board.Trip.ID, exit.Trip.ID)
	assert.Equal(t, "stp_b", exit.Leg.ExitStopID)
	require.NotNil(t, exit.Fare)
	assert.InDelta(t, 50, *exit.Fare, 1e-9)
	require.NotNil(t, exit.Transaction)

	w, err := f.ledger.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, w.Balance, 1e-9)

	// Both taps reported the vehicle's position.
	assert.Equal(t, 2, f.recorder.count())
}

func TestBoard_Twice(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Board(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	_, err = f.svc.Board(ctx, tapAt(stopA, offPeak.Add(time.Minute)))
	assert.ErrorIs(t, err, trip.ErrAlreadyBoarded)
}

func TestExit_WithoutBoarding(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.svc.Exit(context.Background(), tapAt(stopB, offPeak))
	assert.ErrorIs(t, err, trip.ErrNotBoarded)
}

func TestExit_OtherPassengerStillOnBoard(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Board(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	in := tapAt(stopB, offPeak.Add(time.Minute))
	in.UserID = "usr_other"
	_, err = f.svc.Exit(ctx, in)
	assert.ErrorIs(t, err, trip.ErrNotBoarded)
}

func TestTap_OffRoute(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.svc.Tap(context.Background(), tapAt(offRoute, offPeak))
	assert.ErrorIs(t, err, trip.ErrNotOnRoute)
}

func TestTap_OnPathButNotAtStop(t *testing.T) {
	f := newFixture(t, 100)

	// Mid-path is on the route but ~500m from either stop.
	_, err := f.svc.Tap(context.Background(), tapAt(midPath, offPeak))
	assert.ErrorIs(t, err, trip.ErrNotAtStop)
}

func TestTap_UnknownVehicle(t *testing.T) {
	f := newFixture(t, 100)

	in := tapAt(stopA, offPeak)
	in.VehicleID = "veh_nope"
	_, err := f.svc.Tap(context.Background(), in)
	assert.ErrorIs(t, err, transit.ErrVehicleNotFound)
}

func TestExit_FailedDeductionKeepsLegOpen(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	_, err := f.svc.Board(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	_, err = f.svc.Exit(ctx, tapAt(stopB, offPeak.Add(10*time.Minute)))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// The wallet was not touched and the leg is still open.
	w, err := f.ledger.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20, w.Balance, 1e-9)

	// After a top-up, retrying the exit settles exactly once.
	fund(t, f.ledger, f.provider, f.wallet.ID, 80)

	exit, err := f.svc.Exit(ctx, tapAt(stopB, offPeak.Add(15*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, exit.Fare)

	w, err = f.ledger.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, w.Balance, 1e-9)
}

func TestExit_PeakFareUsesLocalHour(t *testing.T) {
	f := newFixture(t, 200)
	ctx := context.Background()

	mult := 1.5
	f.boardStop.Pricing = &transit.PricingRules{PeakMultiplier: &mult}

	// 08:00 in Kathmandu is inside the morning peak even though the same
	// instant is 02:15 UTC.
	npt := time.FixedZone("NPT", (5*60+45)*60)
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, npt)

	_, err := f.svc.Board(ctx, tapAt(stopA, at))
	require.NoError(t, err)

	exit, err := f.svc.Exit(ctx, tapAt(stopB, at.Add(20*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, exit.Fare)
	assert.InDelta(t, 75, *exit.Fare, 1e-9)

	w, err := f.ledger.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 125, w.Balance, 1e-9)
}

func TestExit_AtBoardStopIsFree(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	perKm := 20.0
	f.boardStop.Pricing = &transit.PricingRules{PerKm: &perKm}

	_, err := f.svc.Board(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	exit, err := f.svc.Exit(ctx, tapAt(stopA, offPeak.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, trip.ActionExit, exit.Action)
	require.NotNil(t, exit.Fare)
	assert.Zero(t, *exit.Fare)
	assert.Nil(t, exit.Transaction)
	assert.False(t, exit.Leg.Open())

	// No money moved and no fare transaction was recorded.
	w, err := f.ledger.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, w.Balance, 1e-9)

	txns, err := f.ledger.ListTransactions(ctx, f.wallet.ID, ledger.TransactionFilter{Type: ledger.TransactionTypeFare})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestTap_SecondRiderSharesTrip(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	first, err := f.svc.Tap(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	other := tapAt(stopA, offPeak.Add(time.Minute))
	other.UserID = "usr_other"
	_, err = f.ledger.CreateWallet(ctx, "usr_other", ledger.OwnerKindUser, "")
	require.NoError(t, err)

	second, err := f.svc.Tap(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, trip.ActionBoard, second.Action)
	assert.Equal(t, first.Trip.ID, second.Trip.ID, "both riders ride the same active trip")
}

func TestGetTrip_ListsLegs(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	board, err := f.svc.Board(ctx, tapAt(stopA, offPeak))
	require.NoError(t, err)

	_, legs, err := f.svc.GetTrip(ctx, board.Trip.ID)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, board.Leg.ID, legs[0].ID)
}

func TestFareKey_Deterministic(t *testing.T) {
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	k1 := trip.FareKey("trp_1", "usr_1", at)
	k2 := trip.FareKey("trp_1", "usr_1", at)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, trip.FareKey("trp_1", "usr_2", at))
	assert.NotEqual(t, k1, trip.FareKey("trp_2", "usr_1", at))
	assert.NotEqual(t, k1, trip.FareKey("trp_1", "usr_1", at.Add(time.Second)))
}

package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/events"
	"github.com/transitpay/transitpay/internal/fare"
	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/transit"
)

// Ledger is the slice of the wallet service the trip service needs to
// settle fares.
type Ledger interface {
	Deduct(ctx context.Context, in ledger.DeductInput) (*ledger.Transaction, error)
	GetWalletForOwner(ctx context.Context, ownerID string, kind ledger.OwnerKind) (*ledger.Wallet, error)
}

// LocationRecorder receives vehicle positions observed on taps.
type LocationRecorder interface {
	Record(ctx context.Context, vehicleID string, loc geo.Coordinate, at time.Time) error
}

// TapAction distinguishes the two outcomes of a tap.
type TapAction string

const (
	ActionBoard TapAction = "board"
	ActionExit  TapAction = "exit"
)

// TapInput is one tap of a card or phone against a vehicle reader.
type TapInput struct {
	UserID    string
	VehicleID string

	// RouteID defaults to the vehicle's assigned route.
	RouteID string

	Location geo.Coordinate

	// At defaults to the current time.
	At time.Time
}

// TapResult reports what a tap did.
type TapResult struct {
	Action             TapAction           `json:"action"`
	Trip               *Trip               `json:"trip"`
	Leg                *Leg                `json:"leg"`
	Stop               *transit.Stop       `json:"-"`
	StopDistanceMeters float64             `json:"stop_distance_meters"`
	Fare               *float64            `json:"fare,omitempty"`
	Transaction        *ledger.Transaction `json:"transaction,omitempty"`
}

// Service matches taps to trips and settles fares on exit. Taps for the
// same vehicle and route are serialized through a per-trip lock so a
// board and an exit cannot interleave.
type Service struct {
	repo      Repository
	transit   transit.Repository
	ledger    Ledger
	recorder  LocationRecorder
	sink      events.Sink
	logger    zerolog.Logger
	tripLocks lockTable
}

// NewService creates a new trip service. recorder may be nil.
func NewService(repo Repository, transitRepo transit.Repository, ledgerSvc Ledger, sink events.Sink, recorder LocationRecorder, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Service{
		repo:     repo,
		transit:  transitRepo,
		ledger:   ledgerSvc,
		recorder: recorder,
		sink:     sink,
		logger:   logger.With().Str("component", "trip").Logger(),
	}
}

// Tap boards the passenger if they have no open leg on the vehicle's
// active trip, and exits them otherwise.
func (s *Service) Tap(ctx context.Context, in TapInput) (*TapResult, error) {
	route, err := s.resolveRoute(ctx, &in)
	if err != nil {
		return nil, err
	}

	unlock := s.tripLocks.lock(in.VehicleID + "|" + in.RouteID)
	defer unlock()

	if trip, err := s.repo.GetActiveTrip(ctx, in.VehicleID, in.RouteID); err == nil {
		if _, err := s.repo.GetOpenLeg(ctx, trip.ID, in.UserID); err == nil {
			return s.exit(ctx, in, route, trip)
		} else if !errors.Is(err, ErrLegNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, ErrTripNotFound) {
		return nil, err
	}
	return s.board(ctx, in, route)
}

// Board records a passenger boarding. It fails with ErrAlreadyBoarded if
// the passenger still has an open leg on the vehicle's active trip.
func (s *Service) Board(ctx context.Context, in TapInput) (*TapResult, error) {
	route, err := s.resolveRoute(ctx, &in)
	if err != nil {
		return nil, err
	}

	unlock := s.tripLocks.lock(in.VehicleID + "|" + in.RouteID)
	defer unlock()

	return s.board(ctx, in, route)
}

// Exit closes the passenger's open leg, computes the fare and settles it
// against their wallet.
func (s *Service) Exit(ctx context.Context, in TapInput) (*TapResult, error) {
	route, err := s.resolveRoute(ctx, &in)
	if err != nil {
		return nil, err
	}

	unlock := s.tripLocks.lock(in.VehicleID + "|" + in.RouteID)
	defer unlock()

	trip, err := s.repo.GetActiveTrip(ctx, in.VehicleID, in.RouteID)
	if err != nil {
		if errors.Is(err, ErrTripNotFound) {
			return nil, ErrNotBoarded
		}
		return nil, err
	}
	return s.exit(ctx, in, route, trip)
}

// GetTrip returns a trip with its legs.
func (s *Service) GetTrip(ctx context.Context, id string) (*Trip, []*Leg, error) {
	t, err := s.repo.GetTrip(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	legs, err := s.repo.ListLegs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, legs, nil
}

// ListLegsForUser returns a passenger's ride history, newest first.
func (s *Service) ListLegsForUser(ctx context.Context, userID string, limit, offset int) ([]*Leg, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	return s.repo.ListLegsForUser(ctx, userID, limit, max(offset, 0))
}

func (s *Service) board(ctx context.Context, in TapInput, route *transit.Route) (*TapResult, error) {
	stop, dist, err := matchStop(route, in.Location)
	if err != nil {
		return nil, err
	}

	at := tapTime(in.At)

	trip, err := s.repo.GetActiveTrip(ctx, in.VehicleID, in.RouteID)
	switch {
	case errors.Is(err, ErrTripNotFound):
		trip = &Trip{
			ID:              NewTripID(),
			VehicleID:       in.VehicleID,
			RouteID:         in.RouteID,
			Status:          StatusInProgress,
			CurrentLocation: in.Location,
			StartedAt:       at,
			UpdatedAt:       at,
		}
		if err := s.repo.CreateTrip(ctx, trip); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := s.repo.SetLocation(ctx, trip.ID, in.Location, at); err != nil {
			return nil, err
		}
		trip.CurrentLocation = in.Location
	}

	leg := &Leg{
		ID:          NewLegID(),
		TripID:      trip.ID,
		UserID:      in.UserID,
		BoardStopID: stop.ID,
		BoardTime:   at,
	}
	if err := s.repo.OpenLeg(ctx, leg); err != nil {
		return nil, err
	}

	s.recordLocation(ctx, in.VehicleID, in.Location, at)
	s.sink.Publish(ctx, events.Event{
		Name:   events.TripBoard,
		UserID: in.UserID,
		Payload: map[string]any{
			"trip_id":    trip.ID,
			"leg_id":     leg.ID,
			"board_stop": stop.Name,
		},
	})

	s.logger.Info().
		Str("trip_id", trip.ID).
		Str("user_id", in.UserID).
		Str("stop_id", stop.ID).
		Msg("passenger boarded")

	return &TapResult{
		Action:             ActionBoard,
		Trip:               trip,
		Leg:                leg,
		Stop:               stop,
		StopDistanceMeters: dist,
	}, nil
}

func (s *Service) exit(ctx context.Context, in TapInput, route *transit.Route, trip *Trip) (*TapResult, error) {
	leg, err := s.repo.GetOpenLeg(ctx, trip.ID, in.UserID)
	if err != nil {
		if errors.Is(err, ErrLegNotFound) {
			return nil, ErrNotBoarded
		}
		return nil, err
	}

	exitStop, dist, err := matchStop(route, in.Location)
	if err != nil {
		return nil, err
	}

	at := tapTime(in.At)

	boardStop, ok := route.StopByID(leg.BoardStopID)
	if !ok {
		boardStop, err = s.transit.GetStop(ctx, leg.BoardStopID)
		if err != nil {
			return nil, fmt.Errorf("loading board stop: %w", err)
		}
	}

	amount, err := fare.Calculate(boardStop, exitStop, route, at)
	if err != nil {
		return nil, fmt.Errorf("calculating fare: %w", err)
	}

	// A fare that rounds to zero, such as an exit at the board stop, closes
	// the leg without touching the wallet. The ledger does not accept
	// zero-amount transactions.
	var txn *ledger.Transaction
	if amount > 0 {
		wallet, err := s.ledger.GetWalletForOwner(ctx, in.UserID, ledger.OwnerKindUser)
		if err != nil {
			return nil, err
		}

		// Settle before closing the leg. If the deduction fails, the leg
		// stays open and a retried exit reuses the same key, so the wallet
		// can never be charged twice for one leg.
		txn, err = s.ledger.Deduct(ctx, ledger.DeductInput{
			WalletID:       wallet.ID,
			Amount:         amount,
			IdempotencyKey: FareKey(trip.ID, in.UserID, leg.BoardTime),
			Description:    fmt.Sprintf("fare %s: %s -> %s", route.Code, boardStop.Name, exitStop.Name),
		})
		if err != nil {
			return nil, err
		}
		amount = txn.Amount
	}

	var txnID string
	if txn != nil {
		txnID = txn.ID
	}
	if err := s.repo.CloseLeg(ctx, leg.ID, LegClose{
		ExitStopID:    exitStop.ID,
		ExitTime:      at,
		Fare:          amount,
		TransactionID: txnID,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.SetLocation(ctx, trip.ID, in.Location, at); err != nil {
		s.logger.Warn().Err(err).Str("trip_id", trip.ID).Msg("failed to update trip location")
	}
	trip.CurrentLocation = in.Location

	leg.ExitStopID = exitStop.ID
	leg.ExitTime = &at
	fareAmount := amount
	leg.Fare = &fareAmount
	leg.TransactionID = txnID

	s.recordLocation(ctx, in.VehicleID, in.Location, at)
	s.sink.Publish(ctx, events.Event{
		Name:   events.TripExit,
		UserID: in.UserID,
		Payload: map[string]any{
			"trip_id":   trip.ID,
			"leg_id":    leg.ID,
			"exit_stop": exitStop.Name,
			"fare":      fareAmount,
		},
	})

	s.logger.Info().
		Str("trip_id", trip.ID).
		Str("user_id", in.UserID).
		Str("stop_id", exitStop.ID).
		Float64("fare", fareAmount).
		Msg("passenger exited")

	return &TapResult{
		Action:             ActionExit,
		Trip:               trip,
		Leg:                leg,
		Stop:               exitStop,
		StopDistanceMeters: dist,
		Fare:               &fareAmount,
		Transaction:        txn,
	}, nil
}

func (s *Service) resolveRoute(ctx context.Context, in *TapInput) (*transit.Route, error) {
	vehicle, err := s.transit.GetVehicle(ctx, in.VehicleID)
	if err != nil {
		return nil, err
	}
	if in.RouteID == "" {
		in.RouteID = vehicle.RouteID
	}
	return s.transit.GetRoute(ctx, in.RouteID)
}

func (s *Service) recordLocation(ctx context.Context, vehicleID string, loc geo.Coordinate, at time.Time) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, vehicleID, loc, at); err != nil {
		s.logger.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("failed to record vehicle location")
	}
}

// matchStop geofences a tap: the location must lie on the route path and
// within the matched stop's tolerance.
func matchStop(route *transit.Route, loc geo.Coordinate) (*transit.Stop, float64, error) {
	if !route.OnPath(loc, RouteToleranceMeters) {
		return nil, 0, ErrNotOnRoute
	}

	stop, dist, ok := route.NearestStop(loc, StopSearchRadiusMeters)
	if !ok {
		return nil, 0, ErrNotAtStop
	}

	tolerance := float64(StopToleranceMeters)
	if stop.NearbyRadiusMeters > 0 {
		tolerance = stop.NearbyRadiusMeters
	}
	if dist > tolerance {
		return nil, 0, ErrNotAtStop
	}
	return stop, dist, nil
}

// tapTime defaults a zero tap time to now. The time keeps its location so
// peak-hour pricing sees the local wall clock.
func tapTime(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}

// lockTable hands out one mutex per key. Entries are reference counted and
// removed once the last holder releases, so the table is bounded by the
// number of in-flight taps rather than by fleet history.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*keyedLock)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &keyedLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

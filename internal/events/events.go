// Package events defines the best-effort notification contract between the
// ledger/trip services and the realtime push transport. Delivery happens
// strictly after the underlying mutation commits and must never fail it.
package events

import "context"

// Event names emitted by the core services.
const (
	WalletBalance      = "wallet:balance"
	WalletTopUp        = "wallet:topup"
	TransactionNew     = "transaction:new"
	PreauthCreated     = "preauth:created"
	PreauthCaptured    = "preauth:captured"
	PreauthReleased    = "preauth:released"
	TripBoard          = "trip:board"
	TripExit           = "trip:exit"
	VehicleLocationSet = "vehicle:location"
)

// Event is a notification addressed to a user and/or a wallet room.
type Event struct {
	Name     string `json:"event"`
	UserID   string `json:"-"`
	WalletID string `json:"-"`
	Payload  any    `json:"payload"`
}

// Sink receives events. Implementations must be non-blocking and swallow
// delivery failures; there is no error return on purpose.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, Event) {}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

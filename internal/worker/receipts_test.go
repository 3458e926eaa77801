package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitpay/transitpay/internal/notify"
	"github.com/transitpay/transitpay/internal/worker"
)

func TestStaticDirectory(t *testing.T) {
	dir := worker.StaticDirectory{"usr_1": "rider@example.com"}

	addr, ok := dir.EmailForOwner(context.Background(), "usr_1")
	assert.True(t, ok)
	assert.Equal(t, "rider@example.com", addr)

	_, ok = dir.EmailForOwner(context.Background(), "usr_unknown")
	assert.False(t, ok)
}

func TestRenderReceipt(t *testing.T) {
	subject, body := worker.RenderReceipt(notify.Receipt{
		TransactionID: "txn_abc",
		WalletID:      "wal_abc",
		OwnerID:       "usr_1",
		Type:          "topup",
		Amount:        250,
		Currency:      "npr",
		Balance:       300,
		OccurredAt:    time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
	})

	assert.Equal(t, "TransitPay receipt: topup 250.00 NPR", subject)
	assert.Contains(t, body, "txn_abc")
	assert.Contains(t, body, "wal_abc")
	assert.Contains(t, body, "New balance: 300.00 NPR")
}

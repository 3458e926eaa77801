package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/models"
	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/ledger"
)

// WalletBinder routes a wallet's realtime events to its owner's sessions.
type WalletBinder interface {
	BindWallet(walletID, userID string)
}

// WalletHandler handles wallet, top-up and preauthorization endpoints.
type WalletHandler struct {
	ledger *ledger.Service
	binder WalletBinder
	logger zerolog.Logger
}

// NewWalletHandler creates a new WalletHandler. The binder may be nil when
// no realtime hub is wired.
func NewWalletHandler(ledgerSvc *ledger.Service, binder WalletBinder, logger zerolog.Logger) *WalletHandler {
	return &WalletHandler{
		ledger: ledgerSvc,
		binder: binder,
		logger: logger.With().Str("component", "wallet_handler").Logger(),
	}
}

// CreateWallet handles POST /v1/wallets. The wallet is owned by the
// authenticated user.
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	kind := ledger.OwnerKind(req.OwnerKind)
	if req.OwnerKind == "" {
		kind = ledger.OwnerKindUser
	}

	wallet, err := h.ledger.CreateWallet(r.Context(), GetUserID(r.Context()), kind, req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrWalletExists):
			response.Conflict(w, r, "a wallet already exists for this owner")
		case errors.Is(err, ledger.ErrInvalidAmount):
			response.BadRequest(w, r, err.Error(), nil)
		default:
			h.logger.Error().Err(err).Msg("create wallet failed")
			response.InternalError(w, r, "failed to create wallet")
		}
		return
	}

	h.bind(wallet)
	response.Created(w, r, "/v1/wallets/"+wallet.ID, wallet)
}

// GetMyWallet handles GET /v1/wallets/me.
func (h *WalletHandler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.ledger.GetWalletForOwner(r.Context(), GetUserID(r.Context()), ledger.OwnerKindUser)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			response.NotFound(w, r, "no wallet found for this user")
			return
		}
		h.logger.Error().Err(err).Msg("get wallet failed")
		response.InternalError(w, r, "failed to load wallet")
		return
	}

	h.bind(wallet)
	response.JSON(w, r, http.StatusOK, wallet)
}

// GetWallet handles GET /v1/wallets/{walletId}.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, wallet)
}

// InitiateTopUp handles POST /v1/wallets/{walletId}/topups.
func (h *WalletHandler) InitiateTopUp(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	txn, intent, err := h.ledger.InitiateTopUp(r.Context(), wallet.ID, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			response.BadRequest(w, r, "amount must be greater than zero", nil)
			return
		}
		h.logger.Error().Err(err).Str("wallet_id", wallet.ID).Msg("initiate topup failed")
		response.InternalError(w, r, "failed to initiate top-up")
		return
	}

	response.Created(w, r, "/v1/wallets/"+wallet.ID+"/transactions/"+txn.ID, models.TopUpResponse{
		TransactionID:   txn.ID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		Status:          string(txn.Status),
	})
}

// ConfirmTopUp handles POST /v1/wallets/{walletId}/topups/{transactionId}/confirm.
// Credits the wallet once the payment provider reports the intent as succeeded.
func (h *WalletHandler) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	txnID := chi.URLParam(r, "transactionId")

	txn, err := h.ledger.ConfirmTopUp(r.Context(), wallet.ID, txnID)
	if err != nil {
		h.writeSettlementError(w, r, err, "confirm topup", wallet.ID, txnID)
		return
	}
	response.JSON(w, r, http.StatusOK, txn)
}

// Preauthorize handles POST /v1/wallets/{walletId}/preauths.
func (h *WalletHandler) Preauthorize(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}

	var req models.PreauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	txn, err := h.ledger.Preauthorize(r.Context(), wallet.ID, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			response.BadRequest(w, r, "amount must be greater than zero", nil)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			response.PaymentRequired(w, r, "insufficient balance for this hold")
		default:
			h.logger.Error().Err(err).Str("wallet_id", wallet.ID).Msg("preauthorize failed")
			response.InternalError(w, r, "failed to place hold")
		}
		return
	}
	response.Created(w, r, "/v1/wallets/"+wallet.ID+"/transactions/"+txn.ID, txn)
}

// CapturePreauth handles POST /v1/wallets/{walletId}/preauths/{transactionId}/capture.
func (h *WalletHandler) CapturePreauth(w http.ResponseWriter, r *http.Request) {
	h.settlePreauth(w, r, h.ledger.Capture, "capture preauth")
}

// ReleasePreauth handles POST /v1/wallets/{walletId}/preauths/{transactionId}/release.
func (h *WalletHandler) ReleasePreauth(w http.ResponseWriter, r *http.Request) {
	h.settlePreauth(w, r, h.ledger.Release, "release preauth")
}

// GetTransaction handles GET /v1/wallets/{walletId}/transactions/{transactionId}.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	txnID := chi.URLParam(r, "transactionId")

	txn, err := h.ledger.GetTransaction(r.Context(), txnID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			response.NotFound(w, r, "transaction not found")
			return
		}
		h.logger.Error().Err(err).Str("txn_id", txnID).Msg("get transaction failed")
		response.InternalError(w, r, "failed to load transaction")
		return
	}
	if txn.WalletID != wallet.ID {
		response.NotFound(w, r, "transaction not found")
		return
	}
	response.JSON(w, r, http.StatusOK, txn)
}

// ListTransactions handles GET /v1/wallets/{walletId}/transactions.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	filter, fieldErrs := transactionFilter(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "validation failed", fieldErrs)
		return
	}

	txns, err := h.ledger.ListTransactions(r.Context(), wallet.ID, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("wallet_id", wallet.ID).Msg("list transactions failed")
		response.InternalError(w, r, "failed to load transactions")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"meta":         models.PagedResponseMeta{Limit: filter.Limit, Offset: filter.Offset, Count: len(txns)},
	})
}

// ListHistory handles GET /v1/wallets/{walletId}/history.
func (h *WalletHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	entries, err := h.ledger.ListHistory(r.Context(), wallet.ID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("wallet_id", wallet.ID).Msg("list history failed")
		response.InternalError(w, r, "failed to load balance history")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"history": entries,
		"meta":    models.PagedResponseMeta{Limit: limit, Offset: offset, Count: len(entries)},
	})
}

type settleFunc func(ctx context.Context, walletID, txnID string) (*ledger.Transaction, error)

func (h *WalletHandler) settlePreauth(w http.ResponseWriter, r *http.Request, settle settleFunc, op string) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	txnID := chi.URLParam(r, "transactionId")

	txn, err := settle(r.Context(), wallet.ID, txnID)
	if err != nil {
		h.writeSettlementError(w, r, err, op, wallet.ID, txnID)
		return
	}
	response.JSON(w, r, http.StatusOK, txn)
}

func (h *WalletHandler) writeSettlementError(w http.ResponseWriter, r *http.Request, err error, op, walletID, txnID string) {
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		response.NotFound(w, r, "transaction not found")
	case errors.Is(err, ledger.ErrInvalidTransactionState):
		response.Conflict(w, r, "transaction is not in a settleable state")
	case errors.Is(err, ledger.ErrPaymentIncomplete):
		response.PaymentRequired(w, r, "payment has not completed yet")
	default:
		h.logger.Error().Err(err).
			Str("wallet_id", walletID).
			Str("txn_id", txnID).
			Msg(op + " failed")
		response.InternalError(w, r, "settlement failed")
	}
}

// ownedWallet loads the wallet from the URL and enforces ownership. On
// failure it writes the error response and returns false.
func (h *WalletHandler) ownedWallet(w http.ResponseWriter, r *http.Request) (*ledger.Wallet, bool) {
	walletID := chi.URLParam(r, "walletId")

	wallet, err := h.ledger.GetOwnedWallet(r.Context(), walletID, GetUserID(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrWalletNotFound):
			response.NotFound(w, r, "wallet not found")
		case errors.Is(err, ledger.ErrNotWalletOwner):
			response.Forbidden(w, r, "wallet belongs to a different owner")
		default:
			h.logger.Error().Err(err).Str("wallet_id", walletID).Msg("load wallet failed")
			response.InternalError(w, r, "failed to load wallet")
		}
		return nil, false
	}

	h.bind(wallet)
	return wallet, true
}

func (h *WalletHandler) bind(wallet *ledger.Wallet) {
	if h.binder != nil {
		h.binder.BindWallet(wallet.ID, wallet.OwnerID)
	}
}

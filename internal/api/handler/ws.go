package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/auth"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/realtime"
)

// WSHandler upgrades authenticated clients to a realtime event stream.
// Tokens are accepted from the Authorization header or, for browser
// clients that cannot set headers on websocket requests, a token query
// parameter.
type WSHandler struct {
	hub    *realtime.Hub
	tokens *auth.JWTService
	ledger *ledger.Service
	logger zerolog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *realtime.Hub, tokens *auth.JWTService, ledgerSvc *ledger.Service, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		ledger: ledgerSvc,
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// Serve handles GET /v1/ws.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		response.Unauthorized(w, r, "missing access token")
		return
	}

	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccessTokenExpired):
			response.Unauthorized(w, r, "access token has expired")
		default:
			response.Unauthorized(w, r, "invalid access token")
		}
		return
	}

	// Route the user's wallet events to this connection.
	if wallet, err := h.ledger.GetWalletForOwner(r.Context(), claims.UserID, ledger.OwnerKindUser); err == nil {
		h.hub.BindWallet(wallet.ID, claims.UserID)
	}

	h.hub.ServeUser(w, r, claims.UserID)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

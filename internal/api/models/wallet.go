package models

// CreateWalletRequest is the request body for creating a wallet.
type CreateWalletRequest struct {
	OwnerKind string `json:"owner_kind" validate:"required,oneof=user organization"`
	Currency  string `json:"currency,omitempty"`
}

// TopUpRequest is the request body for initiating a wallet top-up.
type TopUpRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// TopUpResponse is returned after a top-up has been initiated.
// The client completes the payment with ClientSecret and then
// confirms the transaction.
type TopUpResponse struct {
	TransactionID   string  `json:"transaction_id"`
	PaymentIntentID string  `json:"payment_intent_id"`
	ClientSecret    string  `json:"client_secret"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
}

// PreauthRequest is the request body for placing a hold on wallet funds.
type PreauthRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Description string  `json:"description,omitempty"`
}

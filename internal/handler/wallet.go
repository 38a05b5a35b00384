package handler

import (
	"net/http"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/context"
	"github.com/chukwuka-eze/stablepay/internal/errHandler"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/response"
)

type BalanceResponseData struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
}

type WalletResponseData struct {
	ID               string                `json:"id"`
	Address          string                `json:"address"`
	SecondaryAddress string                `json:"secondary_address,omitempty"`
	Status           string                `json:"status"`
	Balances         []BalanceResponseData `json:"balances,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

type walletHandler struct {
	db         repository.Database
	errHandler *errHandler.ErrorHandler
}

func NewWalletHandler(db repository.Database, errHandler *errHandler.ErrorHandler) *walletHandler {
	return &walletHandler{
		db:         db,
		errHandler: errHandler,
	}
}

func (h *walletHandler) HandleWalletBalance(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	accountID := r.PathValue("id")

	account, found, err := h.db.Account().GetOne(accountID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	if !found {
		response.JSONErrorResponse(w, nil, "Wallet not found", http.StatusNotFound, nil)
		return
	}

	// check if logged in user is the owner of the wallet
	if user.ID != account.UserID {
		message := "Access denied"
		response.JSONErrorResponse(w, nil, message, http.StatusForbidden, nil)
		return
	}

	balances, _, err := h.db.Balance().GetAllByAccount(account.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}

	message := "Balances fetched successfully"

	data := make([]BalanceResponseData, len(balances))
	for i, balance := range balances {
		data[i] = BalanceResponseData{
			Asset:     balance.Asset,
			Available: balance.Available.String(),
			Reserved:  balance.Reserved.String(),
		}
	}

	err = response.JSONOkResponse(w, data, message, nil)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

func (h *walletHandler) HandleUserWallet(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	account, found, err := h.db.Account().GetByUserID(user.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	if !found {
		message := "No wallet found"
		err = response.JSONOkResponse(w, nil, message, nil)
		if err != nil {
			h.errHandler.ServerError(w, r, err)
		}
		return
	}

	balances, _, err := h.db.Balance().GetAllByAccount(account.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}

	data := &WalletResponseData{
		ID:               account.ID,
		Address:          account.Address,
		SecondaryAddress: account.SecondaryAddress.String,
		Status:           account.Status,
		CreatedAt:        account.CreatedAt,
	}
	for _, balance := range balances {
		data.Balances = append(data.Balances, BalanceResponseData{
			Asset:     balance.Asset,
			Available: balance.Available.String(),
			Reserved:  balance.Reserved.String(),
		})
	}

	message := "Wallet details retrieved successfully"

	err = response.JSONOkResponse(w, data, message, nil)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

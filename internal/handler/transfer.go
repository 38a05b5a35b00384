package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/context"
	"github.com/chukwuka-eze/stablepay/internal/errHandler"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/request"
	"github.com/chukwuka-eze/stablepay/internal/response"
	"github.com/chukwuka-eze/stablepay/internal/settlement"
	"github.com/chukwuka-eze/stablepay/internal/validator"

	"github.com/shopspring/decimal"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrNoAccount         = errors.New("no active account for this user")
	ErrCancelTooLate     = errors.New("transfer has already been handed to the chain and can no longer be cancelled")
	ErrTransferAmbiguous = errors.New("transfer outcome not yet known, poll the transfer status")
)

type transferHandler struct {
	db         repository.Database
	engine     *settlement.Engine
	errHandler *errHandler.ErrorHandler
}

func NewTransferHandler(db repository.Database, engine *settlement.Engine, errHandler *errHandler.ErrorHandler) *transferHandler {
	return &transferHandler{
		db:         db,
		engine:     engine,
		errHandler: errHandler,
	}
}

type TransferResponseData struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	Fee           string    `json:"fee"`
	Memo          string    `json:"memo,omitempty"`
	TxSignature   string    `json:"tx_signature,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newTransferResponseData(record *repository.TransferRecord) *TransferResponseData {
	return &TransferResponseData{
		ID:            record.ID,
		Status:        record.Status,
		Asset:         record.Asset,
		Amount:        record.Amount.String(),
		Fee:           record.Fee.String(),
		Memo:          record.Memo.String,
		TxSignature:   record.TxSignature.String,
		FailureReason: record.FailureReason.String,
		CreatedAt:     record.CreatedAt,
	}
}

// HandleInitiateTransfer runs a transfer from the authenticated user's account
// to the destination address, synchronously up to the confirmation window.
// The response status tells the caller where things stand: 201 for a confirmed
// transfer, 202 when the outcome is still settling on chain.
func (h *transferHandler) HandleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IdempotencyKey     string              `json:"idempotency_key"`
		DestinationAddress string              `json:"destination_address"`
		Asset              string              `json:"asset"`
		Amount             string              `json:"amount"`
		Memo               string              `json:"memo"`
		Validator          validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.errHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.CheckField(validator.NotBlank(input.IdempotencyKey), "idempotency_key", "Idempotency key is required")
	input.Validator.CheckField(validator.NotBlank(input.DestinationAddress), "destination_address", "Destination address is required")
	input.Validator.CheckField(validator.NotBlank(input.Asset), "asset", "Asset is required")
	input.Validator.CheckField(validator.NotBlank(input.Amount), "amount", "Amount is required")
	input.Validator.CheckField(validator.MaxRunes(input.Memo, settlement.MaxMemoLength), "memo", "Memo is too long")

	amount, err := decimal.NewFromString(input.Amount)
	if input.Amount != "" {
		input.Validator.CheckField(err == nil, "amount", "Amount must be a decimal number")
	}

	if input.Validator.HasErrors() {
		h.errHandler.FailedValidation(w, r, input.Validator)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	account, found, err := h.db.Account().GetByUserID(user.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	if !found {
		response.JSONErrorResponse(w, nil, ErrNoAccount.Error(), http.StatusUnprocessableEntity, nil)
		return
	}

	record, err := h.engine.Settle(r.Context(), &settlement.TransferIntent{
		IdempotencyKey:     input.IdempotencyKey,
		SourceAddress:      account.Address,
		DestinationAddress: input.DestinationAddress,
		Asset:              input.Asset,
		Amount:             amount,
		Memo:               input.Memo,
	})
	if err != nil {
		h.respondSettlementError(w, r, record, err)
		return
	}

	h.respondWithRecord(w, r, record)
}

func (h *transferHandler) respondWithRecord(w http.ResponseWriter, r *http.Request, record *repository.TransferRecord) {
	data := newTransferResponseData(record)

	var err error
	switch record.Status {
	case repository.TransferStatusConfirmed:
		err = response.JSONCreatedResponse(w, data, "Transfer confirmed")
	case repository.TransferStatusCancelled:
		response.JSONErrorResponse(w, data, "Transfer was cancelled", http.StatusConflict, nil)
	default:
		// reserved or broadcast: settlement is still in flight and the record
		// id is the handle to poll
		err = response.JSONAcceptedResponse(w, data, "Transfer settling")
	}
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

func (h *transferHandler) respondSettlementError(w http.ResponseWriter, r *http.Request, record *repository.TransferRecord, err error) {
	var validationErr *settlement.ValidationError
	var balanceErr *settlement.InsufficientBalanceError
	var recordErr *settlement.RecordError

	switch {
	case errors.As(err, &validationErr):
		h.errHandler.FailedValidation(w, r, []string{validationErr.Error()})
	case errors.As(err, &balanceErr):
		response.JSONErrorResponse(w, nil, balanceErr.Error(), http.StatusUnprocessableEntity, nil)
	case errors.As(err, &recordErr):
		var failedErr *settlement.FailedError
		if errors.As(err, &failedErr) {
			data := map[string]string{"transfer_id": recordErr.RecordID}
			response.JSONErrorResponse(w, data, failedErr.Error(), http.StatusUnprocessableEntity, nil)
			return
		}

		// the record exists but its outcome could not be established in this
		// request; surface the id so the caller can poll instead of resubmitting
		h.errHandler.ReportServerError(r, err)
		data := map[string]string{"transfer_id": recordErr.RecordID}
		response.JSONErrorResponse(w, data, ErrTransferAmbiguous.Error(), http.StatusInternalServerError, nil)
	default:
		h.errHandler.ServerError(w, r, err)
	}
}

type TransferEventData struct {
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	OccurredAt time.Time `json:"occurred_at"`
}

type TransferDetailsData struct {
	*TransferResponseData
	Events []TransferEventData `json:"events,omitempty"`
}

func (h *transferHandler) HandleTransferDetails(w http.ResponseWriter, r *http.Request) {
	record, ok := h.authorizedRecord(w, r)
	if !ok {
		return
	}

	data := &TransferDetailsData{TransferResponseData: newTransferResponseData(record)}

	// the audit trail is written asynchronously, so it may lag the record state
	logs, _, err := h.db.Audit().GetAllByEntity("transfer", record.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	for _, entry := range logs {
		data.Events = append(data.Events, TransferEventData{
			FromState:  entry.FromState,
			ToState:    entry.ToState,
			OccurredAt: entry.OccurredAt,
		})
	}

	message := "Transfer details fetched successfully"

	err = response.JSONOkResponse(w, data, message, nil)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

// HandleCancelTransfer releases a reservation that has not yet been handed to
// the chain. Past that point cancellation is refused; the chain decides.
func (h *transferHandler) HandleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	record, ok := h.authorizedRecord(w, r)
	if !ok {
		return
	}

	// only the sender can walk a transfer back
	user := context.ContextGetAuthenticatedUser(r)
	account, found, err := h.db.Account().GetByUserID(user.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	if !found || account.ID != record.SourceAccountID {
		message := "Access denied"
		response.JSONErrorResponse(w, nil, message, http.StatusForbidden, nil)
		return
	}

	current, cancelled, err := h.engine.Cancel(record.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}

	if !cancelled && current.Status != repository.TransferStatusCancelled {
		response.JSONErrorResponse(w, newTransferResponseData(current), ErrCancelTooLate.Error(), http.StatusConflict, nil)
		return
	}

	message := "Transfer cancelled"

	err = response.JSONOkResponse(w, newTransferResponseData(current), message, nil)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

func (h *transferHandler) HandleTransferHistory(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	account, found, err := h.db.Account().GetByUserID(user.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}
	if !found {
		response.JSONErrorResponse(w, nil, ErrNoAccount.Error(), http.StatusUnprocessableEntity, nil)
		return
	}

	queryValues := retrieveUrlQueryValues(r)

	records, found, err := h.db.Transfer().GetAllByAccount(account.ID, queryValues.Limit, queryValues.Offset)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return
	}

	if !found {
		message := "No transfers found"
		err = response.JSONOkResponse(w, []TransferResponseData{}, message, nil)
		if err != nil {
			h.errHandler.ServerError(w, r, err)
		}
		return
	}

	data := make([]*TransferResponseData, len(records))
	for i := range records {
		data[i] = newTransferResponseData(&records[i])
	}

	message := "Transfers retrieved successfully"

	err = response.JSONOkResponse(w, data, message, nil)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

// authorizedRecord loads the transfer in the request path and checks the
// authenticated user is a party to it.
func (h *transferHandler) authorizedRecord(w http.ResponseWriter, r *http.Request) (*repository.TransferRecord, bool) {
	user := context.ContextGetAuthenticatedUser(r)

	transferID := r.PathValue("id")

	record, found, err := h.db.Transfer().GetOne(transferID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return nil, false
	}
	if !found {
		response.JSONErrorResponse(w, nil, ErrTransferNotFound.Error(), http.StatusNotFound, nil)
		return nil, false
	}

	account, found, err := h.db.Account().GetByUserID(user.ID)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
		return nil, false
	}

	if !found || (account.ID != record.SourceAccountID && account.ID != record.DestinationAccountID) {
		message := "Access denied"
		response.JSONErrorResponse(w, nil, message, http.StatusForbidden, nil)
		return nil, false
	}

	return record, true
}

package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/config"
	"github.com/chukwuka-eze/stablepay/internal/errHandler"
	"github.com/chukwuka-eze/stablepay/internal/provisioner"
	"github.com/chukwuka-eze/stablepay/internal/request"
	"github.com/chukwuka-eze/stablepay/internal/response"
	"github.com/chukwuka-eze/stablepay/internal/validator"

	"github.com/pascaldekloe/jwt"
)

type sessionHandler struct {
	provisioner *provisioner.Provisioner
	errHandler  *errHandler.ErrorHandler
	config      *config.Config
}

func NewSessionHandler(prov *provisioner.Provisioner, errHandler *errHandler.ErrorHandler, cfg *config.Config) *sessionHandler {
	return &sessionHandler{
		provisioner: prov,
		errHandler:  errHandler,
		config:      cfg,
	}
}

type SessionResponseData struct {
	UserID           string `json:"user_id"`
	AccountID        string `json:"account_id"`
	Address          string `json:"address"`
	SecondaryAddress string `json:"secondary_address,omitempty"`
}

// HandleCreateSession verifies the identity token minted by the external auth
// provider and provisions the caller's account. First call creates the user,
// the account and its zero balances atomically; repeat calls reconcile the
// submitted address material and are otherwise no-ops.
func (h *sessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.verifyIdentityToken(w, r)
	if !ok {
		return
	}

	var input struct {
		Ed25519Address   string              `json:"ed25519_address"`
		Secp256k1Address string              `json:"secp256k1_address"`
		Validator        validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.errHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.CheckField(validator.NotBlank(input.Ed25519Address), "ed25519_address", "Wallet address is required")

	if input.Validator.HasErrors() {
		h.errHandler.FailedValidation(w, r, input.Validator)
		return
	}

	email, _ := claims.String("email")

	user, account, err := h.provisioner.Provision(r.Context(),
		&provisioner.Identity{ProviderSubject: claims.Subject, Email: email},
		&provisioner.WalletAddressSet{Ed25519: input.Ed25519Address, Secp256k1: input.Secp256k1Address},
	)
	if err != nil {
		var validationErr *provisioner.AddressValidationError
		var conflictErr *provisioner.AddressConflictError

		switch {
		case errors.As(err, &validationErr):
			h.errHandler.FailedValidation(w, r, []string{validationErr.Error()})
		case errors.As(err, &conflictErr):
			response.JSONErrorResponse(w, nil, conflictErr.Error(), http.StatusConflict, nil)
		default:
			h.errHandler.ServerError(w, r, err)
		}
		return
	}

	data := &SessionResponseData{
		UserID:           user.ID,
		AccountID:        account.ID,
		Address:          account.Address,
		SecondaryAddress: account.SecondaryAddress.String,
	}

	message := "Session established"

	err = response.JSONCreatedResponse(w, data, message)
	if err != nil {
		h.errHandler.ServerError(w, r, err)
	}
}

func (h *sessionHandler) verifyIdentityToken(w http.ResponseWriter, r *http.Request) (*jwt.Claims, bool) {
	authorizationHeader := r.Header.Get("Authorization")
	headerParts := strings.Split(authorizationHeader, " ")

	if len(headerParts) != 2 || headerParts[0] != "Bearer" {
		h.errHandler.AuthenticationRequired(w, r)
		return nil, false
	}

	claims, err := jwt.HMACCheck([]byte(headerParts[1]), []byte(h.config.Auth.SecretKey))
	if err != nil {
		h.errHandler.InvalidAuthenticationToken(w, r)
		return nil, false
	}

	if !claims.Valid(time.Now()) || claims.Issuer != h.config.Auth.Issuer || claims.Subject == "" {
		h.errHandler.InvalidAuthenticationToken(w, r)
		return nil, false
	}

	return claims, true
}

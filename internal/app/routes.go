package app

import (
	"net/http"

	"github.com/chukwuka-eze/stablepay/internal/handler"
	"github.com/chukwuka-eze/stablepay/internal/middleware"
)

func (app *Application) routes() http.Handler {
	mux := http.NewServeMux()

	middlewareRepo := middleware.New(app.errorHandler, app.Logger, app.DB.User(), &app.Config)

	healthHandler := handler.NewHealthCheckHandler(app.errorHandler)
	sessionHandler := handler.NewSessionHandler(app.Provisioner, app.errorHandler, &app.Config)
	transferHandler := handler.NewTransferHandler(app.DB, app.Engine, app.errorHandler)
	walletHandler := handler.NewWalletHandler(app.DB, app.errorHandler)

	mux.HandleFunc("GET /status", healthHandler.HandleHealthCheck)

	// provisioning carries its own token verification: a first-time caller has
	// no user row for Authenticate to resolve yet
	mux.HandleFunc("POST /auth/session", sessionHandler.HandleCreateSession)

	authenticated := func(h http.HandlerFunc) http.Handler {
		return middlewareRepo.RequireAuthenticatedUser(h)
	}

	mux.Handle("POST /transfers", authenticated(transferHandler.HandleInitiateTransfer))
	mux.Handle("GET /transfers", authenticated(transferHandler.HandleTransferHistory))
	mux.Handle("GET /transfers/{id}", authenticated(transferHandler.HandleTransferDetails))
	mux.Handle("POST /transfers/{id}/cancel", authenticated(transferHandler.HandleCancelTransfer))

	mux.Handle("GET /wallets", authenticated(walletHandler.HandleUserWallet))
	mux.Handle("GET /wallets/{id}/balance", authenticated(walletHandler.HandleWalletBalance))

	return middlewareRepo.LogAccess(middlewareRepo.RecoverPanic(middlewareRepo.Authenticate(mux)))
}

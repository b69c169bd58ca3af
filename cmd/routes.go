package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.jwtAuth)

	mux := pat.New()

	// Auth (Telegram WebApp initData)
	mux.Post("/api/auth/telegram", standardMiddleware.ThenFunc(app.authHandler.SignInTelegram))
	mux.Post("/api/auth/refresh", standardMiddleware.ThenFunc(app.authHandler.RefreshToken))

	// Catalog. Fixed paths go before the :code pattern.
	mux.Get("/api/packages/countries", standardMiddleware.ThenFunc(app.catalogHandler.Countries))
	mux.Get("/api/packages/country/:code", standardMiddleware.ThenFunc(app.catalogHandler.ByCountry))
	mux.Get("/api/packages/regional", standardMiddleware.ThenFunc(app.catalogHandler.Regional))
	mux.Get("/api/packages/global", standardMiddleware.ThenFunc(app.catalogHandler.Global))
	mux.Get("/api/packages/:code", standardMiddleware.ThenFunc(app.catalogHandler.Package))

	// eSIMs
	mux.Get("/api/esims", authMiddleware.ThenFunc(app.esimHandler.MyEsims))
	mux.Post("/api/esims/:iccid/cancel", authMiddleware.ThenFunc(app.esimHandler.CancelEsim))
	mux.Get("/api/esims/:iccid/topups", authMiddleware.ThenFunc(app.esimHandler.TopupOptions))
	mux.Post("/api/esims/:iccid/topup", authMiddleware.ThenFunc(app.esimHandler.TopUp))
	mux.Post("/api/esims/:iccid/usage", authMiddleware.ThenFunc(app.esimHandler.RefreshUsage))
	mux.Del("/api/esims/:iccid", authMiddleware.ThenFunc(app.esimHandler.RemoveEsim))

	// Payments and balance
	mux.Post("/api/payments/crypto/check", authMiddleware.ThenFunc(app.esimHandler.CheckCryptoInvoice))
	mux.Get("/api/balance", authMiddleware.ThenFunc(app.esimHandler.Balance))

	// Assistant
	mux.Post("/api/assistant/ask", authMiddleware.ThenFunc(app.assistantHandler.Ask))

	// Purchase progress stream
	mux.Get("/ws", http.HandlerFunc(app.WebSocketHandler))

	return mux
}

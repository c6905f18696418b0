package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter builds the HTTP route table: a public login and health check,
// plus the authenticated control surface.
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(h.authService))

	api.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.HandleLogs).Methods(http.MethodGet)
	api.HandleFunc("/purchase", h.HandlePurchase).Methods(http.MethodPost)

	api.HandleFunc("/master/token", h.HandleSetMasterToken).Methods(http.MethodPut)
	api.HandleFunc("/master/connect", h.HandleConnectMaster).Methods(http.MethodPost)
	api.HandleFunc("/master/disconnect", h.HandleDisconnectMaster).Methods(http.MethodPost)

	api.HandleFunc("/copiers", h.HandleAddCopier).Methods(http.MethodPost)
	api.HandleFunc("/copiers/connect", h.HandleConnectAllCopiers).Methods(http.MethodPost)
	api.HandleFunc("/copiers/{id}", h.HandleRemoveCopier).Methods(http.MethodDelete)
	api.HandleFunc("/copiers/{id}/connect", h.HandleConnectCopier).Methods(http.MethodPost)
	api.HandleFunc("/copiers/{id}/disconnect", h.HandleDisconnectCopier).Methods(http.MethodPost)
	api.HandleFunc("/copiers/{id}/enabled", h.HandleEnableCopier).Methods(http.MethodPut)

	api.HandleFunc("/settings/replication", h.HandleEnableReplication).Methods(http.MethodPut)
	api.HandleFunc("/settings/stake-cap", h.HandleSetStakeCap).Methods(http.MethodPut)
	api.HandleFunc("/settings/stake-multiplier", h.HandleSetStakeMultiplier).Methods(http.MethodPut)

	return r
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"copytrade/internal/replication"
)

type tokenRequest struct {
	Token string `json:"token"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

type stakeCapRequest struct {
	StakeCap *float64 `json:"stakeCap"`
}

type stakeMultiplierRequest struct {
	StakeMultiplier float64 `json:"stakeMultiplier"`
}

// masterView is the master state with the credential withheld. Tokens never
// leave the process: responses only carry whether one is set.
type masterView struct {
	HasToken  bool               `json:"hasToken"`
	AccountID string             `json:"loginId,omitempty"`
	Balance   float64            `json:"balance,omitempty"`
	Status    replication.Status `json:"status"`
}

// copierView is a roster entry with the credential withheld.
type copierView struct {
	ID            string             `json:"id"`
	AccountID     string             `json:"loginId,omitempty"`
	Balance       float64            `json:"balance,omitempty"`
	Status        replication.Status `json:"status"`
	AddedAt       int64              `json:"addedAt"`
	Enabled       bool               `json:"enabled"`
	LastErrorCode string             `json:"lastErrorCode,omitempty"`
	LastErrorMsg  string             `json:"lastErrorMsg,omitempty"`
}

func viewOfMaster(m replication.MasterState) masterView {
	return masterView{
		HasToken:  m.Token != "",
		AccountID: m.AccountID,
		Balance:   m.Balance,
		Status:    m.Status,
	}
}

func viewOfCopier(c replication.Copier) copierView {
	return copierView{
		ID:            c.ID,
		AccountID:     c.AccountID,
		Balance:       c.Balance,
		Status:        c.Status,
		AddedAt:       c.AddedAt,
		Enabled:       c.Enabled,
		LastErrorCode: c.LastErrorCode,
		LastErrorMsg:  c.LastErrorMsg,
	}
}

func viewOfCopiers(copiers []replication.Copier) []copierView {
	out := make([]copierView, 0, len(copiers))
	for _, c := range copiers {
		out = append(out, viewOfCopier(c))
	}

	return out
}

type statusResponse struct {
	Master   masterView           `json:"master"`
	Copiers  []copierView         `json:"copiers"`
	Settings replication.Settings `json:"settings"`
}

func (h *Handler) statusSnapshot() statusResponse {
	return statusResponse{
		Master:   viewOfMaster(h.manager.Master()),
		Copiers:  viewOfCopiers(h.manager.Copiers()),
		Settings: h.manager.Settings(),
	}
}

// HandleStatus returns the full engine state in one shot.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.statusSnapshot())
}

// HandleSetMasterToken stores a new master credential.
func (h *Handler) HandleSetMasterToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.manager.SetMasterToken(req.Token)
	h.respondSuccess(w, "Master token updated", nil)
}

// HandleConnectMaster connects and authorizes the master account.
func (h *Handler) HandleConnectMaster(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ConnectMaster(r.Context()); err != nil {
		if errors.Is(err, replication.ErrMissingMasterToken) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		h.respondError(w, http.StatusBadGateway, err.Error())

		return
	}

	h.respondJSON(w, http.StatusOK, viewOfMaster(h.manager.Master()))
}

// HandleDisconnectMaster tears down the master connection.
func (h *Handler) HandleDisconnectMaster(w http.ResponseWriter, _ *http.Request) {
	h.manager.DisconnectMaster()
	h.respondSuccess(w, "Master disconnected", nil)
}

// HandleAddCopier registers a new copier account by token.
func (h *Handler) HandleAddCopier(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	copier, err := h.manager.AddCopier(req.Token)
	if err != nil {
		switch {
		case errors.Is(err, replication.ErrTokenRequired):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, replication.ErrDuplicateToken):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	h.respondJSON(w, http.StatusCreated, viewOfCopier(copier))
}

// HandleRemoveCopier removes a copier and retires its pending trades.
func (h *Handler) HandleRemoveCopier(w http.ResponseWriter, r *http.Request) {
	h.manager.RemoveCopier(mux.Vars(r)["id"])
	h.respondSuccess(w, "Copier removed", nil)
}

// HandleConnectCopier connects and authorizes a single copier.
func (h *Handler) HandleConnectCopier(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.ConnectCopier(r.Context(), id); err != nil {
		if errors.Is(err, replication.ErrCopierNotFound) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}

		h.respondError(w, http.StatusBadGateway, err.Error())

		return
	}

	h.respondSuccess(w, "Copier connected", nil)
}

// HandleDisconnectCopier disconnects a single copier.
func (h *Handler) HandleDisconnectCopier(w http.ResponseWriter, r *http.Request) {
	h.manager.DisconnectCopier(mux.Vars(r)["id"])
	h.respondSuccess(w, "Copier disconnected", nil)
}

// HandleConnectAllCopiers connects every copier concurrently.
func (h *Handler) HandleConnectAllCopiers(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ConnectAllCopiers(r.Context()); err != nil {
		// Partial failure: some copiers may still have connected.
		h.respondJSON(w, http.StatusBadGateway, h.statusSnapshot())
		return
	}

	h.respondSuccess(w, "All copiers connected", viewOfCopiers(h.manager.Copiers()))
}

// HandleEnableCopier toggles replication for one copier.
func (h *Handler) HandleEnableCopier(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.manager.EnableCopier(mux.Vars(r)["id"], req.Enabled); err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.respondSuccess(w, "Copier updated", nil)
}

// HandleEnableReplication toggles the global replication switch.
func (h *Handler) HandleEnableReplication(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.manager.EnableReplication(req.Enabled)
	h.respondJSON(w, http.StatusOK, h.manager.Settings())
}

// HandleSetStakeCap sets or clears the per-trade stake ceiling.
func (h *Handler) HandleSetStakeCap(w http.ResponseWriter, r *http.Request) {
	var req stakeCapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.manager.SetStakeCap(req.StakeCap)
	h.respondJSON(w, http.StatusOK, h.manager.Settings())
}

// HandleSetStakeMultiplier sets the stake scaling factor.
func (h *Handler) HandleSetStakeMultiplier(w http.ResponseWriter, r *http.Request) {
	var req stakeMultiplierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.manager.SetStakeMultiplier(req.StakeMultiplier)
	h.respondJSON(w, http.StatusOK, h.manager.Settings())
}

// HandleLogs returns the recent trade log, newest first.
func (h *Handler) HandleLogs(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.replicator.Logs())
}

// HandlePurchase accepts one observed master purchase and publishes it for
// fan-out. Delivery is fire-and-forget: the response acknowledges acceptance,
// not per-destination outcomes.
func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var evt replication.PurchaseEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(evt.Request) == 0 {
		h.respondError(w, http.StatusBadRequest, "request payload is required")
		return
	}

	h.bus.Publish(replication.TopicPurchase, evt)
	h.respondJSON(w, http.StatusAccepted, successResponse{Message: "Purchase accepted"})
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OwnerHeader carries the ID of the account making the request.
const OwnerHeader = "X-Owner-ID"

// API serves the campaign and subscription endpoints.
type API struct {
	manager *campaign.Manager
	router  chi.Router
}

// NewAPI creates the API handler over manager.
func NewAPI(manager *campaign.Manager) *API {
	a := &API{manager: manager}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", a.handleCreateCampaign)
			r.Get("/", a.handleListCampaigns)
			r.Get("/{id}", a.handleGetCampaign)
			r.Put("/{id}/status", a.handleSetStatus)
			r.Post("/{id}/steps", a.handleAddStep)
			r.Post("/{id}/subscribe", a.handleSubscribe)
			r.Post("/{id}/unsubscribe", a.handleUnsubscribe)
			r.Get("/{id}/stats", a.handleStats)
			r.Get("/{id}/subscriptions", a.handleListSubscriptions)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/{id}", a.handleGetSubscription)
			r.Get("/{id}/progress", a.handleProgress)
		})
	})

	a.router = r
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			respondError(w, http.StatusUnauthorized, OwnerHeader+" header required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

// ownedCampaign loads the campaign named in the path and checks the caller owns it.
func (a *API) ownedCampaign(r *http.Request) (*model.Campaign, error) {
	c, err := a.manager.GetCampaign(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := campaign.Authorize(c, ownerFrom(r)); err != nil {
		return nil, err
	}
	return c, nil
}

type createCampaignRequest struct {
	Name     string `json:"name"`
	Settings struct {
		TriggerEvent string `json:"triggerEvent"`
		SendDelay    int    `json:"sendDelay"`
	} `json:"settings"`
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := a.manager.CreateCampaign(req.Name, ownerFrom(r), model.Settings{
		TriggerEvent:     req.Settings.TriggerEvent,
		SendDelayMinutes: req.Settings.SendDelay,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.manager.ListCampaignsForOwner(ownerFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status model.CampaignStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}

	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	c, err = a.manager.SetStatus(c.ID, req.Status)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (a *API) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var req campaign.StepInput
	if !decode(w, r, &req) {
		return
	}

	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	c, err = a.manager.AddStep(c.ID, req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID   string                 `json:"contactId"`
		TriggerData map[string]interface{} `json:"triggerData"`
	}
	if !decode(w, r, &req) {
		return
	}

	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	sub, err := a.manager.Enroll(c.ID, req.ContactID, req.TriggerData)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if !decode(w, r, &req) {
		return
	}

	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	sub, err := a.manager.GetSubscription(req.SubscriptionID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if sub.CampaignID != c.ID {
		respondErr(w, fmt.Errorf("%w: subscription '%s' in campaign '%s'", campaign.ErrNotFound, sub.ID, c.ID))
		return
	}

	sub, err = a.manager.Unsubscribe(sub.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	stats, err := a.manager.GetCampaignStats(c.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	c, err := a.ownedCampaign(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	subs, err := a.manager.ListSubscriptions(c.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"total":         len(subs),
	})
}

// subscriptionProgress loads the subscription in the path, checking the caller
// owns its campaign.
func (a *API) subscriptionProgress(r *http.Request) (*model.Progress, error) {
	p, err := a.manager.GetProgress(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := campaign.Authorize(p.Campaign, ownerFrom(r)); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	p, err := a.subscriptionProgress(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Subscription)
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := a.subscriptionProgress(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps manager errors onto status codes.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, kv.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

package routes

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// BalancesHandler ... Handles /api/v1/balances/{address} GET requests
func (h Routes) BalancesHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	params, err := h.svc.QueryAddressParams(address)
	if err != nil {
		h.badParams(w, err)
		return
	}

	cacheKey := fmt.Sprintf("balances{address:%s}", strings.ToLower(address))
	if h.enableCache {
		if response, _ := h.cache.GetBalances(cacheKey); response != nil {
			h.writeJSON(w, response)
			return
		}
	}
	balances, err := h.svc.GetBalances(params)
	if err != nil {
		h.serverError(w, "balances", err)
		return
	}
	if h.enableCache {
		h.cache.AddBalances(cacheKey, balances)
	}
	h.writeJSON(w, balances)
}

// IntegrationsHandler ... Handles /api/v1/integrations/{address} GET requests
func (h Routes) IntegrationsHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	params, err := h.svc.QueryAddressParams(address)
	if err != nil {
		h.badParams(w, err)
		return
	}

	cacheKey := fmt.Sprintf("integrations{address:%s}", strings.ToLower(address))
	if h.enableCache {
		if response, _ := h.cache.GetIntegrations(cacheKey); response != nil {
			h.writeJSON(w, response)
			return
		}
	}
	positions, err := h.svc.GetIntegrations(params)
	if err != nil {
		h.serverError(w, "integration positions", err)
		return
	}
	if h.enableCache {
		h.cache.AddIntegrations(cacheKey, positions)
	}
	h.writeJSON(w, positions)
}

// EventsHandler ... Handles /api/v1/events/{address}?limit= GET requests
func (h Routes) EventsHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit := r.URL.Query().Get("limit")
	params, err := h.svc.QueryEventsParams(address, limit)
	if err != nil {
		h.badParams(w, err)
		return
	}

	cacheKey := fmt.Sprintf("events{address:%s,limit:%d}", strings.ToLower(address), params.Limit)
	if h.enableCache {
		if response, _ := h.cache.GetEvents(cacheKey); response != nil {
			h.writeJSON(w, response)
			return
		}
	}
	events, err := h.svc.GetEvents(params)
	if err != nil {
		h.serverError(w, "events", err)
		return
	}
	if h.enableCache {
		h.cache.AddEvents(cacheKey, events)
	}
	h.writeJSON(w, events)
}

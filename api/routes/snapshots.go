package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// SnapshotHandler ... Handles /api/v1/snapshots/{date} GET requests
func (h Routes) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	params, err := h.svc.QueryDateParams(chi.URLParam(r, "date"), "")
	if err != nil {
		h.badParams(w, err)
		return
	}

	// keyed by the resolved date so "latest" moves with the newest day
	cacheKey := fmt.Sprintf("snapshot{date:%s}", utils.DateParam(params.Date))
	if h.enableCache {
		if response, _ := h.cache.GetSnapshot(cacheKey); response != nil {
			h.writeJSON(w, response)
			return
		}
	}
	snapshot, err := h.svc.GetSnapshot(params)
	if err != nil {
		h.serverError(w, "snapshot", err)
		return
	}
	if h.enableCache {
		h.cache.AddSnapshot(cacheKey, snapshot)
	}
	h.writeJSON(w, snapshot)
}

// UserSnapshotHandler ... Handles /api/v1/snapshots/{date}/{address} GET requests
func (h Routes) UserSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	params, err := h.svc.QueryDateParams(chi.URLParam(r, "date"), chi.URLParam(r, "address"))
	if err == nil && params.Address == nil {
		err = errors.New("address is required")
	}
	if err != nil {
		h.badParams(w, err)
		return
	}

	cacheKey := fmt.Sprintf("userSnapshot{date:%s,address:%s}", utils.DateParam(params.Date), utils.AddressParam(*params.Address))
	if h.enableCache {
		if response, _ := h.cache.GetUserSnapshot(cacheKey); response != nil {
			h.writeJSON(w, response)
			return
		}
	}
	snapshot, err := h.svc.GetUserSnapshot(params)
	if err != nil {
		h.serverError(w, "user snapshot", err)
		return
	}
	if h.enableCache {
		h.cache.AddUserSnapshot(cacheKey, snapshot)
	}
	h.writeJSON(w, snapshot)
}

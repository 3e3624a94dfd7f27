package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/api/service"
	"github.com/wjorgensen/StreamDroplets/cache"
)

type Routes struct {
	logger      log.Logger
	router      *chi.Mux
	svc         service.Service
	enableCache bool
	cache       *cache.LruCache
}

// NewRoutes ... Construct a new route handler instance
func NewRoutes(l log.Logger, r *chi.Mux, svc service.Service, enableCache bool, cache *cache.LruCache) Routes {
	return Routes{
		logger:      l,
		router:      r,
		svc:         svc,
		enableCache: enableCache,
		cache:       cache,
	}
}

func jsonResponse(w http.ResponseWriter, data interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json")
	jsonData, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return err
	}
	w.WriteHeader(statusCode)
	_, err = w.Write(jsonData)
	return err
}

func (h Routes) writeJSON(w http.ResponseWriter, data interface{}) {
	if err := jsonResponse(w, data, http.StatusOK); err != nil {
		h.logger.Error("Error writing response", "err", err.Error())
	}
}

// badParams answers a request whose params failed validation. A date with no
// finalized snapshot is reported as not found.
func (h Routes) badParams(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	http.Error(w, "invalid query params", http.StatusBadRequest)
	h.logger.Debug("error reading request params", "err", err.Error())
}

func (h Routes) serverError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Internal server error reading "+what, http.StatusInternalServerError)
	h.logger.Error("Unable to read "+what+" from DB", "err", err.Error())
}

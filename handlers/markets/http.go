package markets

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/models"
)

// OpenMarketResponse is returned after opening a market
type OpenMarketResponse struct {
	Success bool          `json:"success"`
	Market  models.Market `json:"market"`
	Message string        `json:"message,omitempty"`
}

// OpenHandler handles POST /v0/markets
func OpenHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		market, err := Open(r.Context(), db, req)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(OpenMarketResponse{
			Success: true,
			Market:  *market,
			Message: "Market created successfully",
		})
	}
}

// StateHandler handles GET /v0/markets/{marketId}
func StateHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, err := MarketIDFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		view, err := State(r.Context(), db, marketID)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	}
}

// MarketIDFromPath reads the {marketId} route variable.
func MarketIDFromPath(r *http.Request) (int64, error) {
	raw, ok := mux.Vars(r)["marketId"]
	if !ok {
		return 0, errors.New("Market ID is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("Invalid market ID %q", raw)
	}
	return id, nil
}

// StatusFor maps market and pricing errors to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMarketClosed), errors.Is(err, ErrMarketResolved):
		return http.StatusConflict
	case errors.Is(err, ErrWrongTradingMode), errors.Is(err, lmsr.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, lmsr.ErrInsufficientLiquidity), errors.Is(err, lmsr.ErrDomain):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

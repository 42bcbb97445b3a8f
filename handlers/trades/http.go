package trades

import (
	"encoding/json"
	"net/http"

	"socialpredict-amm/handlers/markets"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

// BuyHandler handles POST /v0/markets/{marketId}/buy
func BuyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, err := markets.MarketIDFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req BuyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.MarketID = marketID
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
		}

		result, err := svc.ExecuteBuy(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		writeResult(w, result, result.Replayed)
	}
}

// SellHandler handles POST /v0/markets/{marketId}/sell
func SellHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, err := markets.MarketIDFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req SellRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.MarketID = marketID
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
		}

		result, err := svc.ExecuteSell(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		writeResult(w, result, result.Replayed)
	}
}

// writeResult answers 201 for a new trade and 200 for a replay.
func writeResult(w http.ResponseWriter, result any, replayed bool) {
	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(result)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mixrelay/internal/config"
	"mixrelay/internal/ledger"
	"mixrelay/internal/models"
	"mixrelay/internal/relay"
)

// Handlers holds the HTTP and WebSocket handlers of the relayer
type Handlers struct {
	cfg    *config.Config
	engine *relay.Engine
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewHandlers creates the handler set
func NewHandlers(cfg *config.Config, engine *relay.Engine, ldg *ledger.Ledger, logger *zap.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		engine: engine,
		ledger: ldg,
		logger: logger.Named("api"),
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// contractInfo is the public description of one served contract
type contractInfo struct {
	Address           string  `json:"address"`
	Kind              string  `json:"kind"`
	WithdrawFeePercent float64 `json:"withdrawFeePercent"`
	Denomination      string  `json:"denomination,omitempty"`
}

// chainInfo is the public description of one served chain
type chainInfo struct {
	Name        string         `json:"name"`
	ChainID     string         `json:"chainId"`
	Beneficiary string         `json:"beneficiary,omitempty"`
	Contracts   []contractInfo `json:"contracts"`
}

// Info handles GET /api/v1/info. It advertises the chains and contracts
// this relayer serves along with the fee policy, so wallets can pick a
// relayer before building a withdrawal.
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]chainInfo)
	for chainID, chain := range h.cfg.Chains {
		info := chainInfo{
			Name:        chain.Name,
			ChainID:     chain.ChainID,
			Beneficiary: chain.Beneficiary,
			Contracts:   make([]contractInfo, 0, len(chain.Contracts)),
		}
		for _, profile := range chain.Contracts {
			info.Contracts = append(info.Contracts, contractInfo{
				Address:            profile.Address,
				Kind:               string(profile.Kind),
				WithdrawFeePercent: profile.WithdrawFee,
				Denomination:       profile.Denomination,
			})
		}
		chains[chainID] = info
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"chains": chains})
}

// submitResponse acknowledges an accepted relay request
type submitResponse struct {
	Fingerprint string `json:"fingerprint"`
	ItemStatus  string `json:"status"`
}

// SubmitRelay handles POST /api/v1/relay. The response carries the request
// fingerprint; progress is available via GET or the WebSocket channel.
func (h *Handlers) SubmitRelay(w http.ResponseWriter, r *http.Request) {
	var req models.RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if _, err := h.engine.Submit(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Fingerprint: req.Fingerprint(),
		ItemStatus:  string(models.RelayStatusQueued),
	})
}

// RelayStatus handles GET /api/v1/relay/status/{fingerprint}
func (h *Handlers) RelayStatus(w http.ResponseWriter, r *http.Request) {
	fingerprint := mux.Vars(r)["fingerprint"]

	record, err := h.ledger.Get(fingerprint)
	if err != nil {
		h.logger.Error("Failed to read record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "unknown fingerprint")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// CancelRelay handles DELETE /api/v1/relay/{fingerprint}. Cancellation only
// succeeds before the transaction is broadcast.
func (h *Handlers) CancelRelay(w http.ResponseWriter, r *http.Request) {
	fingerprint := mux.Vars(r)["fingerprint"]

	if err := h.engine.Cancel(fingerprint); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fingerprint, "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

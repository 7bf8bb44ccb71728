package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/brojonat/walletlink/service/bitcoin"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
)

const (
	maxRequestBodySize = 64 << 10 // 64KB - requests carry a few short strings
	maxNameLength      = 100
	maxGlobals         = 64
)

// handleGetWallet returns a handler that reports the current state.
// GET /api/v1/wallet
func handleGetWallet(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := st.GetState()
		logger.Debug("wallet state read", "connected", state.Wallet.Connected)
		writeJSON(w, state, http.StatusOK)
	})
}

// handleRequestDisconnect returns a handler that asks whichever chain owns the
// connection to disconnect. The fact is cleared before the response is written.
// POST /api/v1/wallet/disconnect
func handleRequestDisconnect(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st.RequestDisconnect()
		logger.Info("disconnect requested over http", "remote_addr", r.RemoteAddr)
		writeJSON(w, st.GetState(), http.StatusOK)
	})
}

// handleClearError returns a handler that dismisses the session error.
// DELETE /api/v1/wallet/error
func handleClearError(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st.ClearError()
		logger.Debug("session error cleared")
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleConnect returns a handler that starts a connect through a chain's bridge.
// POST /api/v1/chains/{chain}/connect
func handleConnect(backend Backend, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain, err := chainFromPath(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			WalletName string `json:"wallet_name"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if err := validateName("wallet_name", req.WalletName); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		b, err := backend.Bridge(chain)
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}

		if err := b.Connect(r.Context(), req.WalletName); err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, store.ErrClaimHeld):
				status = http.StatusConflict
			case errors.Is(err, sdk.ErrNoHost):
				status = http.StatusServiceUnavailable
			}
			logger.Info("connect failed", "chain", chain.String(), "wallet_name", req.WalletName, "error", err)
			writeError(w, err.Error(), status)
			return
		}

		logger.Info("connect requested", "chain", chain.String(), "wallet_name", req.WalletName)
		writeJSON(w, backend.Store().GetState(), http.StatusAccepted)
	})
}

// handlePushStatus returns a handler through which a wallet host reports its
// native SDK status.
// POST /api/v1/chains/{chain}/status
func handlePushStatus(backend Backend, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain, err := chainFromPath(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var status sdk.Status
		if !decodeBody(w, r, &status, logger) {
			return
		}
		if status.WalletName != "" {
			if err := validateName("wallet_name", status.WalletName); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		relay, err := backend.Relay(chain)
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		relay.Push(status)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleDiscoverBitcoin returns a handler that filters the globals a host
// found defined down to the supported Bitcoin wallets.
// POST /api/v1/bitcoin/discover
func handleDiscoverBitcoin(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Globals []string `json:"globals"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if len(req.Globals) > maxGlobals {
			writeError(w, fmt.Sprintf("too many globals: maximum is %d", maxGlobals), http.StatusBadRequest)
			return
		}

		found := bitcoin.Discover(bitcoin.NewPresenceEnvironment(req.Globals))
		logger.Debug("bitcoin wallets discovered", "count", len(found))
		writeJSON(w, map[string]any{"wallets": found}, http.StatusOK)
	})
}

func chainFromPath(r *http.Request) (wallet.Chain, error) {
	return wallet.ParseChain(r.PathValue("chain"))
}

// decodeBody decodes a JSON request body, writing the error response itself
// when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// validateName checks a wallet or connector name supplied by a client.
func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s too long: maximum length is %d characters", field, maxNameLength)
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("invalid characters in %s: control characters not allowed", field)
		}
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

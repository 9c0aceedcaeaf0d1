package sandbox

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Console exposes the engine state as JSON for inspecting simulated calls
type Console struct {
	engine *Engine
}

// NewConsole creates a console for e
func NewConsole(e *Engine) *Console {
	return &Console{engine: e}
}

// Register adds the console routes under /sandbox
func (c *Console) Register(r *mux.Router) {
	sub := r.PathPrefix("/sandbox").Subrouter()
	sub.HandleFunc("/calls", c.handleCalls).Methods(http.MethodGet)
	sub.HandleFunc("/calls/{sid}", c.handleCallDetail).Methods(http.MethodGet)
	sub.HandleFunc("/calls/{sid}/hangup", c.handleHangup).Methods(http.MethodPost)
	sub.HandleFunc("/2010-04-01/Accounts/{accountSid}/Calls/{sid}.json", c.handleFetchCall).Methods(http.MethodGet)
}

func (c *Console) handleCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.engine.Snapshot())
}

func (c *Console) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	call, exists := c.engine.GetCall(SID(mux.Vars(r)["sid"]))
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// handleFetchCall serves the call resource as the Twilio REST API shapes it
func (c *Console) handleFetchCall(w http.ResponseWriter, r *http.Request) {
	call, err := c.engine.FetchCall(mux.Vars(r)["sid"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// handleHangup simulates the customer hanging up
func (c *Console) handleHangup(w http.ResponseWriter, r *http.Request) {
	sid := SID(mux.Vars(r)["sid"])
	if err := c.engine.Hangup(sid); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	call, _ := c.engine.GetCall(sid)
	writeJSON(w, http.StatusOK, call)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package api exposes the metronome transport over a small JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/satindergrewal/metronome/internal/metronome"
)

// Controller is the part of the transport the API drives.
type Controller interface {
	Start() error
	Stop()
	Toggle() error
	SetTempo(bpm int) bool
	SetVolume(v float64)
	SetMuted(muted bool)
	ToggleMute() bool
	SetTimeSignature(ts metronome.TimeSignature) error
	SetExternalPlaying(playing bool)
	Status() metronome.Status
}

// Handler routes /api/* requests to a Controller.
type Handler struct {
	ctl       Controller
	mux       *http.ServeMux
	listeners func() int
}

// NewHandler creates the API. listeners, if non-nil, reports how many audio
// stream clients are connected.
func NewHandler(ctl Controller, listeners func() int) *Handler {
	h := &Handler{ctl: ctl, mux: http.NewServeMux(), listeners: listeners}

	h.mux.HandleFunc("/api/status", h.status)
	h.mux.HandleFunc("/api/start", post(h.start))
	h.mux.HandleFunc("/api/stop", post(h.stop))
	h.mux.HandleFunc("/api/toggle", post(h.toggle))
	h.mux.HandleFunc("/api/tempo", post(h.tempo))
	h.mux.HandleFunc("/api/volume", post(h.volume))
	h.mux.HandleFunc("/api/mute", post(h.mute))
	h.mux.HandleFunc("/api/timesig", post(h.timeSignature))
	h.mux.HandleFunc("/api/external", post(h.external))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type statusResponse struct {
	metronome.Status
	Listeners      int                       `json:"listeners"`
	TimeSignatures []metronome.TimeSignature `json:"time_signatures"`
	MinTempo       int                       `json:"min_tempo"`
	MaxTempo       int                       `json:"max_tempo"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:         h.ctl.Status(),
		TimeSignatures: metronome.TimeSignatures(),
		MinTempo:       metronome.MinTempo,
		MaxTempo:       metronome.MaxTempo,
	}
	if h.listeners != nil {
		resp.Listeners = h.listeners()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.reportStart(w, h.ctl.Start())
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	h.ctl.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": false})
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	h.reportStart(w, h.ctl.Toggle())
}

// reportStart maps a start result to a response. A clock failure leaves
// the transport disabled and is the only error surfaced to the user.
func (h *Handler) reportStart(w http.ResponseWriter, err error) {
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, metronome.ErrClockUnavailable) || errors.Is(err, metronome.ErrTransportClosed) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"ok": false, "disabled": true, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": h.ctl.Status().Running})
}

func (h *Handler) tempo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tempo int `json:"tempo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	// Out-of-range tempos are ignored, not reported as errors.
	accepted := h.ctl.SetTempo(req.Tempo)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": accepted, "tempo": h.ctl.Status().Tempo})
}

func (h *Handler) volume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		http.Error(w, "invalid volume", http.StatusBadRequest)
		return
	}
	h.ctl.SetVolume(*req.Volume)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "volume": h.ctl.Status().Volume})
}

func (h *Handler) mute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted *bool `json:"muted"`
	}
	// An empty body toggles.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	var muted bool
	if req.Muted == nil {
		muted = h.ctl.ToggleMute()
	} else {
		muted = *req.Muted
		h.ctl.SetMuted(muted)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "muted": muted})
}

func (h *Handler) timeSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeSignature string `json:"time_signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	ts, err := metronome.ParseTimeSignature(req.TimeSignature)
	if err != nil {
		http.Error(w, "unknown time signature", http.StatusBadRequest)
		return
	}
	if err := h.ctl.SetTimeSignature(ts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time_signature": ts, "beats_per_measure": ts.BeatsPerMeasure()})
}

func (h *Handler) external(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Playing bool `json:"playing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	h.ctl.SetExternalPlaying(req.Playing)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "external_playing": req.Playing})
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/cliplist"
	"github.com/satindergrewal/clipdeck/internal/device"
	"github.com/satindergrewal/clipdeck/internal/engine"
)

// midiControl is the part of the MIDI bridge the API exposes.
type midiControl interface {
	Devices() []string
	Reload() error
}

// listenerCounter reports monitor stream listeners.
type listenerCounter interface {
	ListenerCount() int
}

type peerCounter interface {
	PeerCount() int
}

type api struct {
	engine  *engine.Engine
	drivers func() []device.Info
	midi    midiControl // nil when MIDI is disabled
	http    listenerCounter
	webrtc  peerCounter
	log     *zap.Logger
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/devices", a.handleDevices)
	mux.HandleFunc("/api/events", a.handleEvents)

	mux.HandleFunc("/api/play", post(a.handlePlay))
	mux.HandleFunc("/api/toggle", post(a.handleToggle))
	mux.HandleFunc("/api/stop", post(a.handleStop))
	mux.HandleFunc("/api/clip", post(a.handleClip))
	mux.HandleFunc("/api/load", post(a.handleLoad))
	mux.HandleFunc("/api/save", post(a.handleSave))
	mux.HandleFunc("/api/dir", post(a.handleDir))
	mux.HandleFunc("/api/clear", post(a.handleClear))
	mux.HandleFunc("/api/recent", post(a.handleRecent))
	mux.HandleFunc("/api/output", post(a.handleOutput))
	mux.HandleFunc("/api/midi/reload", post(a.handleMIDIReload))
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Warn(op+" failed", zap.Error(err))
	} else {
		a.log.Debug(op+" rejected", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

// statusFor maps operation failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidSlot):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoClip),
		errors.Is(err, engine.ErrNotPlaying),
		errors.Is(err, engine.ErrNoFilename):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoRecent),
		errors.Is(err, audio.ErrFileNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, audio.ErrTooLong),
		errors.Is(err, cliplist.ErrCorruptFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrDeviceUnavailable),
		errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

type slotRequest struct {
	Slot *int `json:"slot"`
}

func (a *api) slot(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req slotRequest
	if !decode(w, r, &req) {
		return 0, false
	}
	if req.Slot == nil {
		http.Error(w, "slot required", http.StatusBadRequest)
		return 0, false
	}
	return *req.Slot, true
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.engine.Snapshot()
	if err != nil {
		a.fail(w, "status", err)
		return
	}
	recent, err := a.engine.RecentlyUsed()
	if err != nil {
		a.fail(w, "status", err)
		return
	}
	display := make([]string, len(recent))
	for i, p := range recent {
		display[i] = engine.TrimPath(p, engine.RecentDisplayLength)
	}

	resp := map[string]any{
		"status":         st,
		"recent":         display,
		"midi_devices":   a.midiDevices(),
		"http_listeners": 0,
		"webrtc_peers":   0,
	}
	if a.http != nil {
		resp["http_listeners"] = a.http.ListenerCount()
	}
	if a.webrtc != nil {
		resp["webrtc_peers"] = a.webrtc.PeerCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) midiDevices() []string {
	if a.midi == nil {
		return []string{}
	}
	return a.midi.Devices()
}

func (a *api) handleDevices(w http.ResponseWriter, r *http.Request) {
	st, err := a.engine.Snapshot()
	if err != nil {
		a.fail(w, "devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": a.drivers(),
		"output":  st.Output,
		"midi":    a.midiDevices(),
	})
}

func (a *api) handlePlay(w http.ResponseWriter, r *http.Request) {
	i, ok := a.slot(w, r)
	if !ok {
		return
	}
	if err := a.engine.Play(i); err != nil {
		a.fail(w, "play", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slot": i})
}

func (a *api) handleToggle(w http.ResponseWriter, r *http.Request) {
	i, ok := a.slot(w, r)
	if !ok {
		return
	}
	if err := a.engine.Toggle(i); err != nil {
		a.fail(w, "toggle", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slot": i})
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Stop(); err != nil {
		a.fail(w, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slot *int   `json:"slot"`
		Path string `json:"path"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Slot == nil || req.Path == "" {
		http.Error(w, "slot and path required", http.StatusBadRequest)
		return
	}
	if err := a.engine.SetClip(*req.Slot, req.Path); err != nil {
		a.fail(w, "set clip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slot": *req.Slot})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (a *api) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	if err := a.engine.LoadFromFile(req.Path); err != nil {
		a.fail(w, "load", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSave writes to the given path, or to the current file when the
// path is empty.
func (a *api) handleSave(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var err error
	if req.Path == "" {
		err = a.engine.Save()
	} else {
		err = a.engine.SaveToFile(req.Path)
	}
	if err != nil {
		a.fail(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleDir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	err := a.engine.LoadFromDirectory(req.Path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, engine.ErrPartialLoad):
		// the slots that decoded are loaded
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "warning": err.Error()})
	default:
		a.fail(w, "load directory", err)
	}
}

func (a *api) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Clear(); err != nil {
		a.fail(w, "clear", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleRecent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		http.Error(w, "index required", http.StatusBadRequest)
		return
	}
	if err := a.engine.LoadRecent(*req.Index); err != nil {
		a.fail(w, "load recent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleOutput(w http.ResponseWriter, r *http.Request) {
	var req device.Config
	if !decode(w, r, &req) {
		return
	}
	if req.ChannelOffset < 0 {
		http.Error(w, "channelOffset must not be negative", http.StatusBadRequest)
		return
	}
	if req.DriverID != "" && !a.hasDriver(req.DriverID) {
		http.Error(w, fmt.Sprintf("unknown driver %q", req.DriverID), http.StatusBadRequest)
		return
	}
	if err := a.engine.ConfigureOutput(req.DriverID, req.ChannelOffset); err != nil {
		a.fail(w, "configure output", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "output": req})
}

func (a *api) hasDriver(id string) bool {
	for _, d := range a.drivers() {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (a *api) handleMIDIReload(w http.ResponseWriter, r *http.Request) {
	if a.midi == nil {
		http.Error(w, "MIDI disabled", http.StatusServiceUnavailable)
		return
	}
	if err := a.midi.Reload(); err != nil {
		a.fail(w, "midi reload", err)
		return
	}
	a.engine.Reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "midi": a.midi.Devices()})
}

// handleEvents streams engine notifications as server-sent events.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := a.engine.Subscribe()
	defer a.engine.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kwv/starmesh/match"
	"github.com/kwv/starmesh/store"
)

// frameSummary is the JSON view of one frame's latest registration.
type frameSummary struct {
	FrameID     string            `json:"frameId"`
	Registered  bool              `json:"registered"`
	Error       string            `json:"error,omitempty"`
	Soft        bool              `json:"soft,omitempty"`
	DurationMs  int64             `json:"durationMs"`
	Timestamp   time.Time         `json:"timestamp"`
	Diagnostics match.Diagnostics `json:"diagnostics"`
}

// frameDetail adds the fitted mappings and the run history.
type frameDetail struct {
	frameSummary
	Transform  *match.Transform  `json:"transform,omitempty"`
	Homography *match.Homography `json:"homography,omitempty"`
	Pairs      []match.Pair      `json:"pairs,omitempty"`
	History    []runSummary      `json:"history,omitempty"`
}

type runSummary struct {
	Kind        string            `json:"kind"`
	Reference   string            `json:"reference,omitempty"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"durationMs"`
	CreatedAt   time.Time         `json:"createdAt"`
	Diagnostics match.Diagnostics `json:"diagnostics"`
}

func summarize(fs *match.FrameState) frameSummary {
	return frameSummary{
		FrameID:     fs.FrameID,
		Registered:  fs.Result != nil,
		Error:       fs.Error,
		Soft:        fs.Soft,
		DurationMs:  fs.Duration.Milliseconds(),
		Timestamp:   fs.Timestamp,
		Diagnostics: fs.Diagnostics(),
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", "error", err)
	}
}

// newHTTPServer creates an HTTP server with all endpoints. st may be nil, in
// which case frame details carry no history.
func newHTTPServer(tracker *match.StateTracker, st *store.Store, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health request", "remote", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Reference string    `json:"reference"`
			HasFrames bool      `json:"hasFrames"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Reference: tracker.Reference(),
			HasFrames: tracker.HasFrames(),
		}
		writeJSON(w, logger, status)
	})

	mux.HandleFunc("GET /api/frames", func(w http.ResponseWriter, r *http.Request) {
		frames := tracker.Frames()
		out := make([]frameSummary, len(frames))
		for i, fs := range frames {
			out[i] = summarize(fs)
		}
		writeJSON(w, logger, out)
	})

	mux.HandleFunc("GET /api/frames/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		fs, ok := tracker.Frame(id)
		if !ok {
			http.Error(w, "Unknown frame", http.StatusNotFound)
			return
		}
		d := frameDetail{frameSummary: summarize(fs)}
		if fs.Result != nil {
			d.Transform = &fs.Result.Transform
			d.Homography = fs.Result.Homography
			d.Pairs = fs.Result.Pairs
		}
		if st != nil {
			runs, err := st.RunsForFrame(id)
			if err != nil {
				logger.Warn("loading run history", "frame", id, "error", err)
			}
			for _, run := range runs {
				d.History = append(d.History, runSummary{
					Kind:        run.Kind,
					Reference:   run.Reference,
					Error:       run.Error,
					DurationMs:  run.Duration.Milliseconds(),
					CreatedAt:   run.CreatedAt,
					Diagnostics: run.Diagnostics,
				})
			}
		}
		writeJSON(w, logger, d)
	})

	mux.HandleFunc("GET /api/frames/{id}/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		fs, ok := tracker.Frame(r.PathValue("id"))
		if !ok {
			http.Error(w, "Unknown frame", http.StatusNotFound)
			return
		}
		if fs.Result == nil {
			http.Error(w, "Frame has no registration", http.StatusServiceUnavailable)
			return
		}

		// render to a buffer so a failure can still become a 500
		var buf bytes.Buffer
		if err := match.NewOverlayRenderer(fs.Result).RenderToSVG(&buf); err != nil {
			logger.Error("rendering overlay", "frame", fs.FrameID, "error", err)
			http.Error(w, "Rendering failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(buf.Bytes())
	})

	return mux
}

package dxpipe

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/dischargedx/kit"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/safeio"
)

// RegisterHTTP registers the dischargedx endpoints on a chi router.
//
//	POST /v1/patients/{patientID}/chart  chart XML in, PatientView out
//	POST /v1/payloads/resolve            encoded body in, PayloadView out
//	GET  /v1/payloads/signatures         signature tables
//	GET  /v1/health
func (p *Pipeline) RegisterHTTP(r chi.Router) {
	r.Post("/v1/patients/{patientID}/chart", p.handleExtractChart)
	r.Post("/v1/payloads/resolve", p.handleResolvePayload)
	r.Get("/v1/payloads/signatures", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"signatures": payload.Signatures()})
	})
	r.Get("/v1/health", p.handleHealth)
}

func (p *Pipeline) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p.cfg.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	detail, err := p.cfg.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded", "error": err.Error(), "heartbeat": detail,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "heartbeat": detail})
}

func (p *Pipeline) handleExtractChart(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	ctx := kit.WithPatientID(r.Context(), patientID)

	res := p.ExtractReader(ctx, patientID, r.Body)
	code := http.StatusOK
	switch {
	case res.Unreadable():
		code = http.StatusBadRequest
		if isTooLarge(res.Err) {
			code = http.StatusRequestEntityTooLarge
		}
	case res.Fatal():
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res.View())
}

func (p *Pipeline) handleResolvePayload(w http.ResponseWriter, r *http.Request) {
	body, err := safeio.LimitedReadAll(r.Body, p.cfg.MaxEncodedBytes)
	if err != nil {
		code := http.StatusBadRequest
		if isTooLarge(err) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, code, err)
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = kit.GetRequestID(r.Context())
	}
	if ref == "" {
		ref = "http"
	}
	view, err := p.ResolvePayload(ref, string(body))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.Is(err, safeio.ErrLimitExceeded) || errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

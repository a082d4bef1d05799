package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"straintype/internal/fasta"
	"straintype/internal/mlst"
	"straintype/internal/typingdb"
)

// Handler holds the handler dependencies.
type Handler struct {
	svc TypingService
	log *slog.Logger
}

func NewHandler(svc TypingService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListDatabases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"databases": h.svc.ListDatabases()})
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	databaseID := chi.URLParam(r, "database")
	if refreshRequested(r) {
		if err := h.svc.RefreshSchemas(r.Context(), databaseID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	schemas, err := h.svc.ListSchemas(r.Context(), databaseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.loadSchema(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// resolveRequest accepts sequences either as an explicit locus→sequence map
// or as FASTA text whose record names are locus names.
type resolveRequest struct {
	ID        string            `json:"id"`
	Sequences map[string]string `json:"sequences,omitempty"`
	FASTA     string            `json:"fasta,omitempty"`
}

func (req resolveRequest) toSample() (mlst.Sample, error) {
	sample := mlst.Sample{ID: req.ID, Sequences: req.Sequences}
	if req.FASTA == "" {
		if len(sample.Sequences) == 0 {
			return mlst.Sample{}, fmt.Errorf("%w: no sequences submitted", mlst.ErrInvalidInput)
		}
		return sample, nil
	}
	if len(req.Sequences) > 0 {
		return mlst.Sample{}, fmt.Errorf("%w: provide sequences or fasta, not both", mlst.ErrInvalidInput)
	}
	records, err := fasta.ParseString(req.FASTA)
	if err != nil {
		return mlst.Sample{}, fmt.Errorf("%w: %v", mlst.ErrInvalidInput, err)
	}
	if len(records) == 0 {
		return mlst.Sample{}, fmt.Errorf("%w: fasta payload has no records", mlst.ErrInvalidInput)
	}
	sample.Sequences = make(map[string]string, len(records))
	for _, record := range records {
		if _, dup := sample.Sequences[record.Name]; dup {
			return mlst.Sample{}, fmt.Errorf("%w: duplicate fasta record for locus %s", mlst.ErrInvalidInput, record.Name)
		}
		sample.Sequences[record.Name] = record.Sequence
	}
	return sample, nil
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	schema, err := h.loadSchemaMaybeRefresh(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", mlst.ErrInvalidInput, err))
		return
	}
	sample, err := req.toSample()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.ResolveSample(r.Context(), schema, sample)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveBatchRequest struct {
	Samples []resolveRequest `json:"samples"`
}

func (h *Handler) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	schema, err := h.loadSchemaMaybeRefresh(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req resolveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", mlst.ErrInvalidInput, err))
		return
	}
	if len(req.Samples) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: no samples submitted", mlst.ErrInvalidInput))
		return
	}
	samples := make([]mlst.Sample, 0, len(req.Samples))
	for _, item := range req.Samples {
		sample, err := item.toSample()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		samples = append(samples, sample)
	}
	items, err := h.svc.ResolveBatch(r.Context(), schema, samples)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (h *Handler) loadSchema(r *http.Request) (typingdb.Schema, error) {
	schemeID, err := strconv.Atoi(chi.URLParam(r, "scheme"))
	if err != nil {
		return typingdb.Schema{}, fmt.Errorf("%w: scheme id must be an integer", mlst.ErrInvalidInput)
	}
	return h.svc.Schema(r.Context(), chi.URLParam(r, "database"), chi.URLParam(r, "seqdef"), schemeID)
}

func (h *Handler) loadSchemaMaybeRefresh(r *http.Request) (typingdb.Schema, error) {
	schema, err := h.loadSchema(r)
	if err != nil {
		return typingdb.Schema{}, err
	}
	if refreshRequested(r) {
		if err := h.svc.Refresh(r.Context(), schema); err != nil {
			return typingdb.Schema{}, err
		}
		// Re-load so a refreshed locus list is honoured too.
		return h.loadSchema(r)
	}
	return schema, nil
}

func refreshRequested(r *http.Request) bool {
	v := r.URL.Query().Get("refresh")
	return v == "1" || v == "true"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes the domain error translation so callers can always
// tell an unreachable database from an unknown one from caller error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, mlst.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "invalid_input"
	case errors.Is(err, typingdb.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, typingdb.ErrUnavailable):
		status = http.StatusServiceUnavailable
		code = "unavailable"
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	body := map[string]string{"error": code}
	if status != http.StatusInternalServerError {
		body["error_description"] = err.Error()
	}
	writeJSON(w, status, body)
}

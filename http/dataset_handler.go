package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/coordinator"
)

// DatasetHandler serves the dataset resource: creation, listing, entry loads
// and entry reads.
type DatasetHandler struct {
	chi.Router

	coord *coordinator.Coordinator
	eh    ErrorHandler
	log   *zap.Logger
}

// NewDatasetHandler routes the dataset endpoints.
func NewDatasetHandler(c *coordinator.Coordinator, eh ErrorHandler, log *zap.Logger) *DatasetHandler {
	h := &DatasetHandler{
		Router: chi.NewRouter(),
		coord:  c,
		eh:     eh,
		log:    log,
	}

	h.Post("/", h.handleCreateDataset)
	h.Get("/", h.handleListDatasets)
	h.Get("/{dataset}", h.handleGetDataset)
	h.Post("/{dataset}", h.handleLoadEntries)
	h.Post("/{dataset}/tables/{table}", h.handleLoadTableEntries)
	h.Get("/{dataset}/tables/{table}/entries/{key}", h.handleGetEntry)
	h.Get("/{dataset}/tables/{table}/entries", h.handleGetEntries)

	return h
}

type createDatasetRequest struct {
	Name           string                `json:"name"`
	Tables         []string              `json:"tables"`
	ContentType    string                `json:"content-type"`
	EvictionPolicy *depot.EvictionPolicy `json:"eviction-policy"`
}

func (h *DatasetHandler) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed create-dataset request body",
			Err:  err,
		}, w)
		return
	}

	d := &depot.Dataset{
		Name:        req.Name,
		Tables:      req.Tables,
		ContentType: req.ContentType,
	}
	if req.EvictionPolicy != nil {
		d.EvictionPolicy = *req.EvictionPolicy
	}

	created, err := h.coord.CreateDataset(ctx, d)
	if err != nil {
		// A duplicate name is a client mistake on this endpoint.
		if depot.ErrorCode(err) == depot.EConflict {
			err = &depot.Error{Code: depot.EInvalid, Msg: depot.ErrorMessage(err)}
		}
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+created.Name)
	_ = encodeResponse(ctx, w, http.StatusCreated, created)
}

func (h *DatasetHandler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ds, err := h.coord.ListDatasets(ctx)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, ds)
}

func (h *DatasetHandler) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := h.coord.FindDataset(ctx, chi.URLParam(r, "dataset"))
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, d)
}

type tableEntryRequest struct {
	Table string          `json:"table"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *DatasetHandler) handleLoadEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req []tableEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed entry batch body",
			Err:  err,
		}, w)
		return
	}

	batch := make([]coordinator.TableEntry, 0, len(req))
	for _, e := range req {
		batch = append(batch, coordinator.TableEntry{Table: e.Table, Key: e.Key, Value: e.Value})
	}

	err := h.coord.LoadEntries(ctx, r.URL.Query().Get("version-id"), chi.URLParam(r, "dataset"), batch)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

type keyValueRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *DatasetHandler) handleLoadTableEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req []keyValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed entry batch body",
			Err:  err,
		}, w)
		return
	}

	batch := make([]coordinator.KeyValue, 0, len(req))
	for _, e := range req {
		batch = append(batch, coordinator.KeyValue{Key: e.Key, Value: e.Value})
	}

	err := h.coord.LoadTableEntries(ctx,
		r.URL.Query().Get("version-id"),
		chi.URLParam(r, "dataset"),
		chi.URLParam(r, "table"),
		batch,
	)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DatasetHandler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.coord.GetEntry(ctx,
		r.URL.Query().Get("version-id"),
		chi.URLParam(r, "dataset"),
		chi.URLParam(r, "table"),
		chi.URLParam(r, "key"),
	)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}

	setVersionHeaders(w, res)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data[chi.URLParam(r, "key")])
}

type getEntriesRequest struct {
	Key string `json:"key"`
}

type getEntriesResponse struct {
	Status      string                     `json:"status"`
	KeysFound   int                        `json:"keys-found"`
	KeysMissing int                        `json:"keys-missing"`
	Data        map[string]json.RawMessage `json:"data"`
}

func (h *DatasetHandler) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req []getEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed entry key batch body",
			Err:  err,
		}, w)
		return
	}

	keys := make([]string, 0, len(req))
	for _, e := range req {
		keys = append(keys, e.Key)
	}

	res, err := h.coord.GetEntries(ctx,
		r.URL.Query().Get("version-id"),
		chi.URLParam(r, "dataset"),
		chi.URLParam(r, "table"),
		keys,
	)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}

	data := make(map[string]json.RawMessage, len(res.Data))
	for k, v := range res.Data {
		data[k] = v
	}

	setVersionHeaders(w, res)
	_ = encodeResponse(ctx, w, http.StatusOK, getEntriesResponse{
		Status:      "ok",
		KeysFound:   len(data),
		KeysMissing: len(keys) - len(data),
		Data:        data,
	})
}

func setVersionHeaders(w http.ResponseWriter, res *coordinator.ReadResult) {
	if res.ActiveVersionID != "" {
		w.Header().Set("X-Active-Version-Id", res.ActiveVersionID)
	}
	w.Header().Set("X-Version-Id", res.VersionID)
}

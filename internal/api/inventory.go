package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/logging"
	"github.com/erazemk/shramba/internal/model"
)

// Request size limits.
const (
	maxImportBytes = 1 << 20
	maxImageBytes  = 10 << 20
)

// InventoryHandler forwards inventory requests to the signed-in user's controller.
type InventoryHandler struct {
	Registry *inventory.Registry
}

// controller resolves the caller's controller or writes an error.
func (h *InventoryHandler) controller(w http.ResponseWriter, r *http.Request) (*inventory.Controller, bool) {
	ctrl, err := h.Registry.Get(r.Context(), userID(r))
	if err != nil {
		inventoryError(w, r, err)
		return nil, false
	}
	return ctrl, true
}

// View handles GET /api/inventory.
func (h *InventoryHandler) View(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, ctrl.View())
}

// Reload handles POST /api/inventory/reload.
func (h *InventoryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Load(r.Context(), userID(r)); err != nil {
		inventoryError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, ctrl.View())
}

// Summary handles GET /api/inventory/summary.
func (h *InventoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, ctrl.Summary())
}

// Search handles PUT /api/inventory/search.
func (h *InventoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.SetSearchText(req.Text)
	jsonResponse(w, http.StatusOK, ctrl.View())
}

// Filter handles PUT /api/inventory/filter.
func (h *InventoryHandler) Filter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter model.Bucket `json:"filter"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.SetFilter(req.Filter); err != nil {
		inventoryError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, ctrl.View())
}

// Sort handles PUT /api/inventory/sort.
func (h *InventoryHandler) Sort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column model.SortColumn `json:"column"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.SetSort(req.Column); err != nil {
		inventoryError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, ctrl.View())
}

// AddItem handles POST /api/inventory/items.
func (h *InventoryHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if err := decodeJSON(r, &d); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	item, err := ctrl.AddItem(r.Context(), d)
	if err != nil {
		inventoryError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// UpdateItem handles PATCH /api/inventory/items/{id}.
func (h *InventoryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if err := decodeJSON(r, &p); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	item, err := ctrl.UpdateItem(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		inventoryError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/inventory/items/{id}.
func (h *InventoryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		inventoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll handles DELETE /api/inventory/items. The request must carry
// confirm=yes to go ahead.
func (h *InventoryHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	confirmed := r.URL.Query().Get("confirm") == "yes"
	n, err := ctrl.DeleteAll(r.Context(), func(int) bool { return confirmed })
	if err != nil {
		inventoryError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("inventory cleared", "user", userID(r), "deleted", n)
	jsonResponse(w, http.StatusOK, map[string]int{"deleted": n})
}

// Import handles POST /api/inventory/import. The body is either raw CSV text
// or a JSON object with a csv field.
func (h *InventoryHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var text string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req struct {
			CSV string `json:"csv"`
		}
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		text = req.CSV
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				jsonError(w, http.StatusRequestEntityTooLarge, "import too large")
				return
			}
			jsonError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		text = string(data)
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	res, err := ctrl.ImportCSV(r.Context(), text)
	if errors.Is(err, inventory.ErrNoValidRecords) || (err != nil && res.Imported > 0) {
		// Rows may already be committed, so the counts go with the error.
		jsonResponse(w, errorStatus(err), map[string]any{
			"error":    err.Error(),
			"imported": res.Imported,
			"rejected": res.Rejected,
		})
		return
	}
	if err != nil {
		inventoryError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("inventory imported", "user", userID(r),
		"imported", res.Imported, "rejected", len(res.Rejected))
	jsonResponse(w, http.StatusCreated, res)
}

type identifyResponse struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
}

// Identify handles POST /api/inventory/identify with a multipart image field.
func (h *InventoryHandler) Identify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image field required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	name, found := ctrl.SuggestName(r.Context(), image)
	jsonResponse(w, http.StatusOK, identifyResponse{Name: name, Found: found})
}

package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-aoi/internal/roi"
)

// POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductName string `json:"product_name"`
		ClientInfo  string `json:"client_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProductName == "" {
		respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	rois, err := s.Products.GetROIs(req.ProductName)
	if err != nil {
		respondMapped(w, err)
		return
	}

	sess, err := s.Sessions.Create(req.ProductName, req.ClientInfo)
	if err != nil {
		respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id":           sess.ID,
		"roi_groups_count":     len(roi.Groups(rois)),
		"devices_need_barcode": devicesNeedingBarcode(rois),
	})
}

// devicesNeedingBarcode lists device positions with no optical barcode
// source; the operator must key those in manually.
func devicesNeedingBarcode(rois []roi.ROI) []int {
	devices := make(map[int]bool)
	covered := make(map[int]bool)
	for _, r := range rois {
		devices[r.DeviceID] = true
		if r.Type == roi.TypeBarcode && r.IsDeviceBarcode {
			covered[r.DeviceID] = true
		}
	}

	need := []int{}
	for id := range devices {
		if !covered[id] {
			need = append(need, id)
		}
	}
	sort.Ints(need)
	return need
}

// DELETE /api/sessions/{id}
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

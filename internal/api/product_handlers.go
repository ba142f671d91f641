package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-aoi/internal/products"
	"github.com/technosupport/ts-aoi/internal/roi"
)

// GET /api/products
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Products.List()
	if err != nil {
		respondMapped(w, err)
		return
	}
	if list == nil {
		list = []products.Product{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": list})
}

// POST /api/products
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductName string `json:"product_name"`
		Description string `json:"description"`
		DeviceCount int    `json:"device_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProductName == "" {
		respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	p, err := s.Products.Create(req.ProductName, req.Description, req.DeviceCount)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"product_name": p.Name})
}

// GET /api/products/{name}/rois
func (s *Server) handleGetROIs(w http.ResponseWriter, r *http.Request) {
	rois, err := s.Products.GetROIs(chi.URLParam(r, "name"))
	if err != nil {
		respondMapped(w, err)
		return
	}

	out := make([]roi.ServerROI, 0, len(rois))
	for _, rr := range rois {
		out = append(out, roi.ToServer(rr))
	}
	respondJSON(w, http.StatusOK, map[string]any{"rois": out})
}

// PUT /api/products/{name}/rois
//
// The body accepts every serialized ROI shape: legacy positional arrays,
// server objects, client objects, mixed in one list.
func (s *Server) handleSaveROIs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ROIs json.RawMessage `json:"rois"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rois, err := roi.NormalizeAll(req.ROIs)
	if err != nil {
		respondMapped(w, err)
		return
	}
	if err := s.Products.SaveROIs(chi.URLParam(r, "name"), rois); err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "rois saved",
		"roi_count": len(rois),
	})
}

// GET /api/products/{name}/roi-groups
func (s *Server) handleROIGroups(w http.ResponseWriter, r *http.Request) {
	rois, err := s.Products.GetROIs(chi.URLParam(r, "name"))
	if err != nil {
		respondMapped(w, err)
		return
	}

	type wireGroup struct {
		Key      string          `json:"group_key"`
		Focus    int             `json:"focus"`
		Exposure int             `json:"exposure"`
		ROIs     []roi.ClientROI `json:"rois"`
	}
	groups := roi.Groups(rois)
	out := make([]wireGroup, 0, len(groups))
	for _, g := range groups {
		wg := wireGroup{Key: g.Key, Focus: g.Focus, Exposure: g.Exposure}
		for _, rr := range g.ROIs {
			wg.ROIs = append(wg.ROIs, roi.ToClient(rr))
		}
		out = append(out, wg)
	}
	respondJSON(w, http.StatusOK, map[string]any{"roi_groups": out})
}

package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-aoi/internal/imaging"
)

const maxGoldenUpload = 20 << 20

// GET /api/products/{name}/rois/{id}/golden
func (s *Server) handleListGolden(w http.ResponseWriter, r *http.Request) {
	roiID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || roiID < 0 {
		respondError(w, http.StatusBadRequest, "invalid roi id")
		return
	}

	samples, err := s.Goldens.List(chi.URLParam(r, "name"), roiID)
	if err != nil {
		respondMapped(w, err)
		return
	}

	names := make([]string, 0, len(samples))
	for _, p := range samples {
		names = append(names, filepath.Base(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"samples": names,
		"count":   len(names),
	})
}

// POST /api/products/{name}/rois/{id}/golden
//
// The body is a raw JPEG; it becomes the ROI's best golden and any prior
// best is archived.
func (s *Server) handleUploadGolden(w http.ResponseWriter, r *http.Request) {
	roiID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || roiID < 0 {
		respondError(w, http.StatusBadRequest, "invalid roi id")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxGoldenUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	img, err := imaging.DecodeJPEG(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "body is not a valid JPEG")
		return
	}

	path, err := s.Goldens.SaveInitial(chi.URLParam(r, "name"), roiID, img)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"sample": filepath.Base(path),
	})
}

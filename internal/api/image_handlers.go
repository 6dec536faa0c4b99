package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/refresher"
)

const imageFileName = "satellite_image.jpg"

// welcome handles GET /api.
func (s *Server) welcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.cfg.Server.WelcomeMessage})
}

// image handles GET /api/image.jpg. It serves the bytes of the latest
// successful fetch, honoring If-None-Match, If-Modified-Since and Range, or
// 503 with {"error": ...} before the first success.
func (s *Server) image(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.images.Read()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, ImageNotFoundMessage)
		return
	}

	contentType := snap.ContentType
	if contentType == "" {
		contentType = imagery.ContentTypeJPEG
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	if snap.Digest != "" {
		h.Set("ETag", fmt.Sprintf("%q", snap.Digest))
	}
	if maxAge := s.cfg.Server.ImageMaxAge; maxAge > 0 {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
	} else {
		h.Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, imageFileName, snap.FetchedAt, bytes.NewReader(snap.Bytes))
}

type imageInfo struct {
	Available   bool      `json:"available"`
	Bytes       int       `json:"bytes,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitzero"`
	Source      string    `json:"source,omitempty"`
}

type statusResponse struct {
	Image           imageInfo           `json:"image"`
	Refresh         *refresher.Status   `json:"refresh,omitempty"`
	RefreshInterval string              `json:"refresh_interval,omitempty"`
	Layer           string              `json:"layer"`
	BBox            imagery.BoundingBox `json:"bbox"`
}

// status handles GET /api/status.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Layer: s.cfg.Imagery.Layer,
		BBox:  s.cfg.Imagery.BBox,
	}
	if snap, ok := s.images.Read(); ok {
		resp.Image = imageInfo{
			Available:   true,
			Bytes:       snap.Size(),
			ContentType: snap.ContentType,
			Digest:      snap.Digest,
			FetchedAt:   snap.FetchedAt,
			Source:      snap.Source,
		}
	}
	if s.refresh != nil {
		st := s.refresh.Status()
		resp.Refresh = &st
		resp.RefreshInterval = s.refresh.Interval().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

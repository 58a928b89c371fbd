package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/order"
	"github.com/dunamismax/bitwear/internal/session"
)

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var update mockup.Selection
	if err := decodeJSON(r, &update); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	next, err := s.catalog.Apply(sess.Selection(), update)
	if err == nil {
		err = s.catalog.Validate(next)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.SetSelection(next)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// displayImage is what the customize step shows: the committed artifact, or
// the candidate while it awaits approval.
func displayImage(sess *session.Session) (domain.EncodedImage, bool) {
	if art, ok := sess.Orchestrator().Artifact(); ok {
		return art.EncodedImage, true
	}
	return sess.Orchestrator().Candidate()
}

func (s *Server) handlePlacement(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, ok := displayImage(sess)
	if !ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "no pixel art to place"})
		return
	}

	sel := sess.Selection()
	placement := s.compositor.Overlay(sel, img.Width, img.Height)
	label := ""
	if p, err := s.catalog.Product(sel.Product); err == nil {
		label = mockup.Label(p, placement.View)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"selection": sel,
		"canvas":    s.catalog.Canvas,
		"label":     label,
		"placement": placement,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, ok := displayImage(sess)
	if !ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "no pixel art to preview"})
		return
	}

	format := "png"
	if f := strings.ToLower(r.URL.Query().Get("format")); f == "jpeg" || f == "jpg" {
		format = "jpeg"
	}
	data, err := s.compositor.Composite(r.Context(), nil, img, sess.Selection(), format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mime := domain.MimePNG
	if format == "jpeg" {
		mime = domain.MimeJPEG
	}
	writeImage(w, domain.EncodedImage{Data: data, MimeType: mime})
}

type orderRequest struct {
	order.Customer
	Selection *mockup.Selection `json:"selection,omitempty"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.orders == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ordering is not configured"})
		return
	}

	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	sel := sess.Selection()
	if req.Selection != nil {
		next, err := s.catalog.Apply(sel, *req.Selection)
		if err != nil {
			s.writeError(w, err)
			return
		}
		sel = next
		sess.SetSelection(sel)
	}

	art, ok := sess.Orchestrator().Artifact()
	if !ok {
		s.writeError(w, order.ErrNoArtifact)
		return
	}

	res, err := s.orders.Submit(r.Context(), art, sess.ArtifactRef(), req.Customer, sel)
	s.metrics.observeOrder(err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.SetOrder(session.OrderRef{
		OrderID:    res.Order.ID,
		ProductID:  res.ProductID,
		ProductURL: res.ProductURL,
		PlacedAt:   time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, res)
}

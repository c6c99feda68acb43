package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/t59688/btx/internal/models"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := s.admin.ListUsers(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

type blockedRequest struct {
	Blocked bool `json:"blocked"`
}

func (s *Server) handleAdminSetBlocked(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	var req blockedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if err := s.admin.SetUserBlocked(r.Context(), id, req.Blocked); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustCreditsRequest struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) handleAdminAdjustCredits(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	var req adjustCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if req.Amount == 0 {
		s.badRequest(w, "amount must be non-zero")
		return
	}
	rec, err := s.credits.AdminAdjust(r.Context(), id, req.Amount, req.Description)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAdminListStyles(w http.ResponseWriter, r *http.Request) {
	styles, err := s.admin.ListStyles(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, styles)
}

type styleRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	PreviewURL        string `json:"preview_url"`
	ReferenceImageURL string `json:"reference_image_url"`
	CategoryID        *int64 `json:"category_id"`
	Prompt            string `json:"prompt"`
	CreditsCost       int    `json:"credits_cost"`
	IsActive          bool   `json:"is_active"`
	SortOrder         int    `json:"sort_order"`
}

func (r *styleRequest) toModel(id int64) *models.Style {
	return &models.Style{
		ID:                id,
		Name:              r.Name,
		Description:       r.Description,
		PreviewURL:        r.PreviewURL,
		ReferenceImageURL: r.ReferenceImageURL,
		CategoryID:        r.CategoryID,
		Prompt:            r.Prompt,
		CreditsCost:       r.CreditsCost,
		IsActive:          r.IsActive,
		SortOrder:         r.SortOrder,
	}
}

func (s *Server) handleAdminCreateStyle(w http.ResponseWriter, r *http.Request) {
	var req styleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	style, err := s.admin.CreateStyle(r.Context(), req.toModel(0))
	if err != nil {
		s.errorJSON(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, style)
}

func (s *Server) handleAdminUpdateStyle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	var req styleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	style, err := s.admin.UpdateStyle(r.Context(), req.toModel(id))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, style)
}

func (s *Server) handleAdminDeleteStyle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.admin.DeleteStyle(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.admin.ListProducts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Credits     int    `json:"credits"`
	Amount      int    `json:"amount"`
	IsActive    bool   `json:"is_active"`
	SortOrder   int    `json:"sort_order"`
}

func (r *productRequest) toModel(id int64) *models.Product {
	return &models.Product{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		Credits:     r.Credits,
		Amount:      r.Amount,
		IsActive:    r.IsActive,
		SortOrder:   r.SortOrder,
	}
}

func (s *Server) handleAdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	product, err := s.admin.CreateProduct(r.Context(), req.toModel(0))
	if err != nil {
		s.errorJSON(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleAdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	product, err := s.admin.UpdateProduct(r.Context(), req.toModel(id))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleAdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.admin.DeleteProduct(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminHideArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.admin.HideArtwork(r.Context(), id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListCardKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.cardKeys.List(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

type generateKeysRequest struct {
	Count   int `json:"count"`
	Credits int `json:"credits"`
	MaxUses int `json:"max_uses"`
}

func (s *Server) handleAdminGenerateCardKeys(w http.ResponseWriter, r *http.Request) {
	var req generateKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if req.Credits <= 0 {
		s.badRequest(w, "credits must be positive")
		return
	}
	keys, err := s.cardKeys.GenerateBatch(r.Context(), req.Count, req.Credits, req.MaxUses)
	if err != nil {
		s.errorJSON(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, keys)
}

func (s *Server) handleAdminListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.admin.ListConfigs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, configs)
}

type setConfigRequest struct {
	ConfigKey   string `json:"config_key"`
	ConfigValue string `json:"config_value"`
	Description string `json:"description"`
}

func (s *Server) handleAdminSetConfig(w http.ResponseWriter, r *http.Request) {
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if err := s.admin.SetConfig(r.Context(), req.ConfigKey, req.ConfigValue, req.Description); err != nil {
		s.errorJSON(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

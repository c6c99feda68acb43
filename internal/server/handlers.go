package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/service"
)

type loginRequest struct {
	Code      string `json:"code"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.badRequest(w, "code is required")
		return
	}
	result, err := s.users.Login(r.Context(), req.Code, req.Nickname, req.AvatarURL)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), currentUserID(r))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	user, err := s.users.UpdateProfile(r.Context(), currentUserID(r), req.Nickname, req.AvatarURL)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := parseID(v)
		if err != nil {
			s.badRequest(w, "invalid category_id")
			return
		}
		categoryID = &id
	}
	styles, err := s.styles.ListActive(r.Context(), categoryID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, styles)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.styles.Categories(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleGetStyle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	style, err := s.styles.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, style)
}

func (s *Server) handleCreateArtwork(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	art, err := s.artworks.Create(r.Context(), currentUserID(r), req)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, art)
}

func (s *Server) handleListMyArtworks(w http.ResponseWriter, r *http.Request) {
	arts, err := s.artworks.ListMine(r.Context(), currentUserID(r),
		queryInt(r, "offset", 0), queryInt(r, "limit", 20))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, arts)
}

func (s *Server) handleGetArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	art, err := s.artworks.Get(r.Context(), currentUserID(r), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleArtworkProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	progress, err := s.artworks.GetProgress(r.Context(), currentUserID(r), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

type publishRequest struct {
	IsPublic    bool   `json:"is_public"`
	PublicScope string `json:"public_scope"`
}

func (s *Server) handlePublishArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	art, err := s.artworks.SetPublish(r.Context(), currentUserID(r), id, req.IsPublic, models.PublicScope(req.PublicScope))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleDeleteArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.artworks.Delete(r.Context(), currentUserID(r), id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLikeArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.artworks.Like(r.Context(), currentUserID(r), id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlikeArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, "invalid id")
		return
	}
	if err := s.artworks.Unlike(r.Context(), currentUserID(r), id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	items, err := s.artworks.ListPublic(r.Context(), currentUserID(r),
		queryInt(r, "offset", 0), queryInt(r, "limit", 20))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.credits.Balance(r.Context(), currentUserID(r))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

func (s *Server) handleCreditRecords(w http.ResponseWriter, r *http.Request) {
	page, err := s.credits.Records(r.Context(), currentUserID(r),
		queryInt(r, "offset", 0), queryInt(r, "limit", 20))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAdReward(w http.ResponseWriter, r *http.Request) {
	rec, err := s.credits.AdReward(r.Context(), currentUserID(r))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.orders.Products(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type createOrderRequest struct {
	ProductID int64 `json:"product_id"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	order, err := s.orders.Create(r.Context(), currentUserID(r), req.ProductID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List(r.Context(), currentUserID(r),
		queryInt(r, "offset", 0), queryInt(r, "limit", 20))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")
	if orderNo == "" {
		s.badRequest(w, "order number required")
		return
	}
	order, err := s.orders.QueryStatus(r.Context(), currentUserID(r), orderNo)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemCardKey(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.badRequest(w, "code is required")
		return
	}
	rec, err := s.cardKeys.Redeem(r.Context(), currentUserID(r), req.Code)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

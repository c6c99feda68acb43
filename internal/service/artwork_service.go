package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

var (
	ErrStyleNotFound       = errors.New("画风不存在")
	ErrStyleInactive       = errors.New("画风已下架")
	ErrArtworkNotFound     = errors.New("作品不存在")
	ErrArtworkForbidden    = errors.New("无权访问该作品")
	ErrImageSourceRequired = errors.New("必须提供有效的图片来源")
	ErrInvalidImageData    = errors.New("图片数据无效")
	ErrNotCompleted        = errors.New("只有生成成功的作品才能公开")
	ErrInsufficientCredits = repository.ErrInsufficientBalance
)

const sourceFolder = "source_images"

// ArtworkStore is the slice of the artwork repository the service
// needs.
type ArtworkStore interface {
	Create(ctx context.Context, artwork *models.Artwork) (*models.Artwork, error)
	Get(ctx context.Context, id int64) (*models.Artwork, error)
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.Artwork, error)
	ListPublic(ctx context.Context, offset, limit int) ([]models.Artwork, error)
	SetPublish(ctx context.Context, id int64, isPublic bool, scope models.PublicScope) (bool, error)
	SoftDelete(ctx context.Context, id int64) error
	HardDelete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	IncrementViews(ctx context.Context, id int64) error
	AddLikes(ctx context.Context, id int64, delta int) error
}

// StyleStore loads the styles referenced by creation requests.
type StyleStore interface {
	Get(ctx context.Context, id int64) (*models.Style, error)
}

// LikeStore records per-user likes.
type LikeStore interface {
	Add(ctx context.Context, userID, artworkID int64) (bool, error)
	Remove(ctx context.Context, userID, artworkID int64) (bool, error)
	LikedSet(ctx context.Context, userID int64, artworkIDs []int64) (map[int64]bool, error)
}

// CreateLedger reads balances and debits the creation cost.
type CreateLedger interface {
	Balance(ctx context.Context, userID int64) (int, error)
	Adjust(ctx context.Context, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error)
}

// SourceStore keeps source images in object storage.
type SourceStore interface {
	Upload(ctx context.Context, data []byte, folder, contentType string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

// Generator runs the generation pipeline for a freshly created
// artwork.
type Generator interface {
	Process(ctx context.Context, artworkID int64, aspectRatio string) error
}

type ArtworkService struct {
	artworks ArtworkStore
	styles   StyleStore
	likes    LikeStore
	credits  CreateLedger
	objects  SourceStore
	pipeline Generator
	log      *slog.Logger
}

func NewArtworkService(artworks ArtworkStore, styles StyleStore, likes LikeStore, credits CreateLedger, objects SourceStore, pipeline Generator, log *slog.Logger) *ArtworkService {
	return &ArtworkService{
		artworks: artworks,
		styles:   styles,
		likes:    likes,
		credits:  credits,
		objects:  objects,
		pipeline: pipeline,
		log:      log,
	}
}

// CreateRequest carries the image source for a new artwork. Inline
// base64 data wins when several sources are present; image_url must
// point at an object already in our bucket; source_artwork_id reuses
// the source image of an earlier artwork by the same user.
type CreateRequest struct {
	StyleID         int64  `json:"style_id"`
	ImageBase64     string `json:"image_base64,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SourceArtworkID *int64 `json:"source_artwork_id,omitempty"`
}

// Create debits the style cost, stores the source image, inserts the
// processing artwork and starts generation in the background. The
// debit and the insert are compensated together: if the debit fails
// the artwork row and the uploaded source are removed again.
func (s *ArtworkService) Create(ctx context.Context, userID int64, req CreateRequest) (*models.Artwork, error) {
	style, err := s.styles.Get(ctx, req.StyleID)
	if err != nil {
		return nil, fmt.Errorf("get style: %w", err)
	}
	if style == nil {
		return nil, ErrStyleNotFound
	}
	if !style.IsActive {
		return nil, ErrStyleInactive
	}

	if style.CreditsCost > 0 {
		balance, err := s.credits.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if balance < style.CreditsCost {
			return nil, ErrInsufficientCredits
		}
	}

	var sourceURL, aspectRatio string
	var uploadedSource bool
	switch {
	case req.ImageBase64 != "":
		sourceURL, aspectRatio, err = s.storeInlineImage(ctx, req.ImageBase64)
		if err != nil {
			return nil, err
		}
		uploadedSource = true
	case req.ImageURL != "":
		sourceURL = req.ImageURL
		aspectRatio = s.probeAspectRatio(ctx, req.ImageURL)
	case req.SourceArtworkID != nil:
		sourceURL, aspectRatio, err = s.reuseSourceImage(ctx, userID, *req.SourceArtworkID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrImageSourceRequired
	}

	art, err := s.artworks.Create(ctx, &models.Artwork{
		UserID:         userID,
		StyleID:        req.StyleID,
		SourceImageURL: sourceURL,
	})
	if err != nil {
		s.discardSource(ctx, sourceURL, uploadedSource)
		return nil, fmt.Errorf("create artwork: %w", err)
	}

	if style.CreditsCost > 0 {
		relatedID := art.ID
		if _, err := s.credits.Adjust(ctx, userID, -style.CreditsCost, models.CreditCreate, "创作消耗: "+style.Name, &relatedID); err != nil {
			s.compensateCreate(ctx, art.ID)
			s.discardSource(ctx, sourceURL, uploadedSource)
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return nil, ErrInsufficientCredits
			}
			return nil, fmt.Errorf("debit credits: %w", err)
		}
	}

	go func() {
		if err := s.pipeline.Process(context.Background(), art.ID, aspectRatio); err != nil {
			s.log.Error("generation pipeline error", "artwork_id", art.ID, "error", err)
		}
	}()

	s.log.Info("artwork created", "artwork_id", art.ID, "user_id", userID, "style_id", req.StyleID)
	return art, nil
}

// compensateCreate removes the artwork row after a failed debit. If
// even the delete fails the row is parked in failed state so the
// stall sweeper never refunds a cost that was never charged.
func (s *ArtworkService) compensateCreate(ctx context.Context, artworkID int64) {
	delErr := s.artworks.HardDelete(ctx, artworkID)
	if delErr == nil {
		return
	}
	s.log.Error("compensating artwork delete failed", "artwork_id", artworkID, "error", delErr)
	if _, err := s.artworks.MarkFailed(ctx, artworkID, "积分扣除失败，作品已取消"); err != nil {
		s.log.Error("compensating artwork fail-mark failed", "artwork_id", artworkID, "error", err)
	}
}

func (s *ArtworkService) storeInlineImage(ctx context.Context, encoded string) (url, aspectRatio string, err error) {
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidImageData
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return "", "", ErrInvalidImageData
	}
	url, err = s.objects.Upload(ctx, data, sourceFolder, "image/"+format)
	if err != nil {
		return "", "", fmt.Errorf("upload source image: %w", err)
	}
	return url, fmt.Sprintf("%d:%d", cfg.Width, cfg.Height), nil
}

// probeAspectRatio reads an already stored image back to measure it.
// A failure only costs the aspect-ratio hint, not the creation.
func (s *ArtworkService) probeAspectRatio(ctx context.Context, url string) string {
	data, err := s.objects.Fetch(ctx, url)
	if err != nil {
		s.log.Warn("aspect ratio probe fetch failed", "url", url, "error", err)
		return ""
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		s.log.Warn("aspect ratio probe decode failed", "url", url, "error", err)
		return ""
	}
	return fmt.Sprintf("%d:%d", cfg.Width, cfg.Height)
}

func (s *ArtworkService) reuseSourceImage(ctx context.Context, userID, artworkID int64) (url, aspectRatio string, err error) {
	prev, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return "", "", fmt.Errorf("get source artwork: %w", err)
	}
	if prev == nil || prev.UserID != userID {
		return "", "", ErrArtworkNotFound
	}
	data, err := s.objects.Fetch(ctx, prev.SourceImageURL)
	if err != nil {
		return "", "", fmt.Errorf("fetch source image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return "", "", ErrInvalidImageData
	}
	return prev.SourceImageURL, fmt.Sprintf("%d:%d", cfg.Width, cfg.Height), nil
}

func (s *ArtworkService) discardSource(ctx context.Context, url string, uploaded bool) {
	if !uploaded {
		return
	}
	if err := s.objects.Delete(ctx, url); err != nil {
		s.log.Warn("discarding source image failed", "url", url, "error", err)
	}
}

// Get applies visibility rules: owners see everything, everyone else
// only public completed artworks, with the source image hidden when
// the scope is result_only.
func (s *ArtworkService) Get(ctx context.Context, viewerID, artworkID int64) (*models.Artwork, error) {
	art, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return nil, fmt.Errorf("get artwork: %w", err)
	}
	if art == nil {
		return nil, ErrArtworkNotFound
	}
	if art.UserID == viewerID {
		return art, nil
	}
	if !art.IsPublic || art.Status != models.ArtworkCompleted {
		return nil, ErrArtworkForbidden
	}
	if art.PublicScope == models.ScopeResultOnly {
		art.SourceImageURL = ""
	}
	if err := s.artworks.IncrementViews(ctx, artworkID); err != nil {
		s.log.Warn("view count update failed", "artwork_id", artworkID, "error", err)
	} else {
		art.ViewsCount++
	}
	return art, nil
}

// Progress is the polling payload while an artwork generates.
type Progress struct {
	Status       models.ArtworkStatus `json:"status"`
	Progress     int                  `json:"progress"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	ResultURL    *string              `json:"result_image_url,omitempty"`
}

func (s *ArtworkService) GetProgress(ctx context.Context, userID, artworkID int64) (*Progress, error) {
	art, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return nil, fmt.Errorf("get artwork: %w", err)
	}
	if art == nil || art.UserID != userID {
		return nil, ErrArtworkNotFound
	}
	return &Progress{
		Status:       art.Status,
		Progress:     art.Progress,
		ErrorMessage: art.ErrorMessage,
		ResultURL:    art.ResultImageURL,
	}, nil
}

func (s *ArtworkService) ListMine(ctx context.Context, userID int64, offset, limit int) ([]models.Artwork, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	arts, err := s.artworks.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list artworks: %w", err)
	}
	if arts == nil {
		arts = []models.Artwork{}
	}
	return arts, nil
}

// GalleryItem is a public artwork plus whether the viewer liked it.
type GalleryItem struct {
	models.Artwork
	Liked bool `json:"liked"`
}

func (s *ArtworkService) ListPublic(ctx context.Context, viewerID int64, offset, limit int) ([]GalleryItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	arts, err := s.artworks.ListPublic(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list public artworks: %w", err)
	}

	ids := make([]int64, 0, len(arts))
	for _, a := range arts {
		ids = append(ids, a.ID)
	}
	liked := map[int64]bool{}
	if viewerID > 0 && len(ids) > 0 {
		liked, err = s.likes.LikedSet(ctx, viewerID, ids)
		if err != nil {
			return nil, fmt.Errorf("load liked set: %w", err)
		}
	}

	items := make([]GalleryItem, 0, len(arts))
	for _, a := range arts {
		if a.PublicScope == models.ScopeResultOnly {
			a.SourceImageURL = ""
		}
		items = append(items, GalleryItem{Artwork: a, Liked: liked[a.ID]})
	}
	return items, nil
}

// SetPublish flips gallery visibility. Only completed artworks can be
// made public.
func (s *ArtworkService) SetPublish(ctx context.Context, userID, artworkID int64, isPublic bool, scope models.PublicScope) (*models.Artwork, error) {
	art, err := s.ownArtwork(ctx, userID, artworkID)
	if err != nil {
		return nil, err
	}
	if scope != models.ScopeAll {
		scope = models.ScopeResultOnly
	}
	ok, err := s.artworks.SetPublish(ctx, art.ID, isPublic, scope)
	if err != nil {
		return nil, fmt.Errorf("set publish: %w", err)
	}
	if !ok {
		return nil, ErrNotCompleted
	}
	return s.artworks.Get(ctx, artworkID)
}

func (s *ArtworkService) Delete(ctx context.Context, userID, artworkID int64) error {
	art, err := s.ownArtwork(ctx, userID, artworkID)
	if err != nil {
		return err
	}
	if err := s.artworks.SoftDelete(ctx, art.ID); err != nil {
		return fmt.Errorf("delete artwork: %w", err)
	}
	return nil
}

// Like is idempotent per user, the counter only moves on the first
// like.
func (s *ArtworkService) Like(ctx context.Context, userID, artworkID int64) error {
	art, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return fmt.Errorf("get artwork: %w", err)
	}
	if art == nil {
		return ErrArtworkNotFound
	}
	if art.UserID != userID && (!art.IsPublic || art.Status != models.ArtworkCompleted) {
		return ErrArtworkForbidden
	}
	added, err := s.likes.Add(ctx, userID, artworkID)
	if err != nil {
		return fmt.Errorf("add like: %w", err)
	}
	if added {
		if err := s.artworks.AddLikes(ctx, artworkID, 1); err != nil {
			s.log.Warn("like count update failed", "artwork_id", artworkID, "error", err)
		}
	}
	return nil
}

func (s *ArtworkService) Unlike(ctx context.Context, userID, artworkID int64) error {
	removed, err := s.likes.Remove(ctx, userID, artworkID)
	if err != nil {
		return fmt.Errorf("remove like: %w", err)
	}
	if removed {
		if err := s.artworks.AddLikes(ctx, artworkID, -1); err != nil {
			s.log.Warn("like count update failed", "artwork_id", artworkID, "error", err)
		}
	}
	return nil
}

func (s *ArtworkService) ownArtwork(ctx context.Context, userID, artworkID int64) (*models.Artwork, error) {
	art, err := s.artworks.Get(ctx, artworkID)
	if err != nil {
		return nil, fmt.Errorf("get artwork: %w", err)
	}
	if art == nil {
		return nil, ErrArtworkNotFound
	}
	if art.UserID != userID {
		return nil, ErrArtworkForbidden
	}
	return art, nil
}

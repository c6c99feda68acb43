// Package pipeline runs artwork generation from debit to terminal
// state: streaming the provider response, committing progress, storing
// the result artifact, and refunding credits on failure.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/provider"
	"github.com/t59688/btx/internal/stream"
)

// ArtworkStore is the slice of artwork persistence the pipeline needs.
// Terminal transitions report whether this caller won the transition.
type ArtworkStore interface {
	Get(ctx context.Context, id int64) (*models.Artwork, error)
	UpdateProgress(ctx context.Context, id int64, progress int) error
	MarkCompleted(ctx context.Context, id int64, resultImageURL string) (bool, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	AppendErrorMessage(ctx context.Context, id int64, extra string) error
	ListStalledProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Artwork, error)
}

type StyleStore interface {
	Get(ctx context.Context, id int64) (*models.Style, error)
}

type Ledger interface {
	Adjust(ctx context.Context, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, data []byte, folder, contentType string) (string, error)
	Presign(ctx context.Context, url string, ttl time.Duration) (string, error)
}

type Generator interface {
	StreamGenerate(ctx context.Context, req provider.GenerateRequest, fn func(delta string) error) error
}

const (
	downloadAttempts    = 3
	downloadBackoffBase = 2 * time.Second
	resultFolder        = "result_images"
)

// errFailureSignaled stops the stream as soon as the parser reports an
// explicit failure.
var errFailureSignaled = errors.New("generation failure signaled")

var errInvalidImage = errors.New("downloaded data is not a decodable image")

type Orchestrator struct {
	artworks   ArtworkStore
	styles     StyleStore
	ledger     Ledger
	objects    ObjectStore
	gen        Generator
	httpClient *http.Client
	presignTTL time.Duration
	backoff    time.Duration
	log        *slog.Logger
}

func NewOrchestrator(artworks ArtworkStore, styles StyleStore, ledger Ledger, objects ObjectStore, gen Generator, presignTTL time.Duration, log *slog.Logger) *Orchestrator {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Orchestrator{
		artworks:   artworks,
		styles:     styles,
		ledger:     ledger,
		objects:    objects,
		gen:        gen,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		presignTTL: presignTTL,
		backoff:    downloadBackoffBase,
		log:        log,
	}
}

// Process drives one artwork from processing to a terminal state. It is
// safe to call for an artwork that already finished; conditional
// updates in the store guarantee at most one terminal transition wins.
func (o *Orchestrator) Process(ctx context.Context, artworkID int64, aspectRatio string) error {
	art, err := o.artworks.Get(ctx, artworkID)
	if err != nil {
		return fmt.Errorf("load artwork %d: %w", artworkID, err)
	}
	if art == nil {
		return fmt.Errorf("artwork %d not found", artworkID)
	}
	if art.Status != models.ArtworkProcessing {
		o.log.Info("artwork already terminal, skipping", "artwork_id", artworkID, "status", art.Status)
		return nil
	}

	style, err := o.styles.Get(ctx, art.StyleID)
	if err != nil || style == nil {
		return o.fail(ctx, art, styleCost(style), "画风配置缺失，无法生成", true)
	}
	cost := style.CreditsCost

	sourceURL, err := o.objects.Presign(ctx, art.SourceImageURL, o.presignTTL)
	if err != nil {
		o.log.Error("presign source image failed", "artwork_id", artworkID, "error", err)
		return o.fail(ctx, art, cost, "获取源图片链接失败", true)
	}
	referenceURL := ""
	if style.ReferenceImageURL != "" {
		referenceURL, err = o.objects.Presign(ctx, style.ReferenceImageURL, o.presignTTL)
		if err != nil {
			o.log.Error("presign reference image failed", "artwork_id", artworkID, "error", err)
			return o.fail(ctx, art, cost, "获取参考图片链接失败", true)
		}
	}

	prompt := style.Prompt
	if aspectRatio != "" {
		prompt += " .保持图片比例为" + aspectRatio
	}

	parser := stream.NewParser(art.Progress)
	streamErr := o.gen.StreamGenerate(ctx, provider.GenerateRequest{
		Prompt:            prompt,
		SourceImageURL:    sourceURL,
		ReferenceImageURL: referenceURL,
	}, func(delta string) error {
		for _, ev := range parser.Feed(delta) {
			switch ev.Kind {
			case stream.KindProgress:
				if err := o.artworks.UpdateProgress(ctx, artworkID, ev.Progress); err != nil {
					o.log.Warn("progress update failed", "artwork_id", artworkID, "progress", ev.Progress, "error", err)
				}
			case stream.KindFailure:
				return errFailureSignaled
			}
		}
		return nil
	})

	if streamErr != nil && !errors.Is(streamErr, errFailureSignaled) {
		o.log.Error("generation stream failed", "artwork_id", artworkID, "error", streamErr)
		return o.fail(ctx, art, cost, streamFailureMessage(streamErr), true)
	}

	outcome := parser.Finish()
	if outcome.Kind == stream.OutcomeFailure {
		return o.fail(ctx, art, cost, outcome.Reason, true)
	}

	data, contentType, err := o.downloadResult(ctx, outcome.URL)
	if err != nil {
		o.log.Error("result download failed", "artwork_id", artworkID, "url", outcome.URL, "error", err)
		msg := "下载生成结果失败"
		if errors.Is(err, errInvalidImage) {
			msg = "生成结果不是有效图片"
		}
		return o.fail(ctx, art, cost, msg, true)
	}

	storedURL, err := o.objects.Upload(ctx, data, resultFolder, contentType)
	if err != nil {
		o.log.Error("result upload failed", "artwork_id", artworkID, "error", err)
		// The artifact was produced, only our copy failed. No refund.
		return o.fail(ctx, art, cost, "保存生成结果失败", false)
	}

	won, err := o.artworks.MarkCompleted(ctx, artworkID, storedURL)
	if err != nil {
		o.log.Error("completion commit failed", "artwork_id", artworkID, "error", err)
		return o.fail(ctx, art, cost, "生成结果保存后状态更新失败", false)
	}
	if !won {
		o.log.Info("completion lost terminal race", "artwork_id", artworkID)
		return nil
	}
	o.log.Info("artwork completed", "artwork_id", artworkID, "result_url", storedURL)
	return nil
}

// fail marks the artwork failed and, when the transition wins and
// refund is requested, returns the style cost to the user. A refund
// failure is recorded on the artwork rather than retried.
func (o *Orchestrator) fail(ctx context.Context, art *models.Artwork, cost int, message string, refund bool) error {
	won, err := o.artworks.MarkFailed(ctx, art.ID, message)
	if err != nil {
		return fmt.Errorf("mark artwork %d failed: %w", art.ID, err)
	}
	if !won {
		o.log.Info("failure lost terminal race", "artwork_id", art.ID)
		return nil
	}
	o.log.Info("artwork failed", "artwork_id", art.ID, "message", message, "refund", refund)

	if refund && cost > 0 {
		relatedID := art.ID
		if _, err := o.ledger.Adjust(ctx, art.UserID, cost, models.CreditRefund, "生成失败退款", &relatedID); err != nil {
			o.log.Error("refund failed", "artwork_id", art.ID, "user_id", art.UserID, "amount", cost, "error", err)
			if appendErr := o.artworks.AppendErrorMessage(ctx, art.ID, fmt.Sprintf(" (积分退还失败: %v)", err)); appendErr != nil {
				o.log.Error("recording refund failure failed", "artwork_id", art.ID, "error", appendErr)
			}
		}
	}
	return nil
}

// downloadResult fetches the provider's result URL with retries and
// verifies the bytes decode as an image. An undecodable body is not
// retried; the same URL would return the same bytes.
func (o *Orchestrator) downloadResult(ctx context.Context, url string) ([]byte, string, error) {
	var lastErr error
	backoff := o.backoff
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
			backoff *= 2
		}

		data, err := o.fetch(ctx, url)
		if err != nil {
			lastErr = err
			o.log.Warn("result download attempt failed", "attempt", attempt, "url", url, "error", err)
			continue
		}

		_, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errInvalidImage, err)
		}
		return data, "image/" + format, nil
	}
	return nil, "", fmt.Errorf("download failed after %d attempts: %w", downloadAttempts, lastErr)
}

func (o *Orchestrator) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	return data, nil
}

func streamFailureMessage(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "AI 接口请求超时"
	case errors.Is(err, provider.ErrStreamDecode):
		return "解析 AI 返回数据失败"
	default:
		return "AI 接口请求失败"
	}
}

func styleCost(style *models.Style) int {
	if style == nil {
		return 0
	}
	return style.CreditsCost
}

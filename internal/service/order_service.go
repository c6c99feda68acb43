package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/payment"
)

var (
	ErrProductNotFound = errors.New("商品不存在")
	ErrOrderNotFound   = errors.New("订单不存在")
)

// OrderStore is the slice of the order repository the service needs.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (*models.Order, error)
	Settle(ctx context.Context, id int64, paymentID string, grant func(tx *sql.Tx) error) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error)
}

// ProductStore lists and loads purchasable credit packages.
type ProductStore interface {
	Get(ctx context.Context, id int64) (*models.Product, error)
	ListActive(ctx context.Context) ([]models.Product, error)
}

// SettleLedger grants purchased credits inside the settlement
// transaction.
type SettleLedger interface {
	AdjustTx(ctx context.Context, tx *sql.Tx, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error)
}

// PaymentGateway asks the payment backend for an order's state.
type PaymentGateway interface {
	QueryStatus(ctx context.Context, orderNo string) (*payment.Status, error)
}

type OrderService struct {
	orders   OrderStore
	products ProductStore
	credits  SettleLedger
	gateway  PaymentGateway
	log      *slog.Logger
}

func NewOrderService(orders OrderStore, products ProductStore, credits SettleLedger, gateway PaymentGateway, log *slog.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		products: products,
		credits:  credits,
		gateway:  gateway,
		log:      log,
	}
}

// Create opens a pending order for a credit package.
func (s *OrderService) Create(ctx context.Context, userID, productID int64) (*models.Order, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil || !product.IsActive {
		return nil, ErrProductNotFound
	}

	order, err := s.orders.Create(ctx, &models.Order{
		OrderNo:   newOrderNo(),
		UserID:    userID,
		ProductID: product.ID,
		Amount:    product.Amount,
		Credits:   product.Credits,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.Info("order created", "order_no", order.OrderNo, "user_id", userID, "product_id", productID)
	return order, nil
}

// QueryStatus polls the gateway and settles the order when it was
// paid. Settlement runs in one store transaction: the status change
// and the credit grant commit together, so a failed grant leaves the
// order pending and the next poll retries it.
func (s *OrderService) QueryStatus(ctx context.Context, userID int64, orderNo string) (*models.Order, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if order.Status != models.OrderPending {
		return order, nil
	}

	status, err := s.gateway.QueryStatus(ctx, orderNo)
	if err != nil {
		return nil, fmt.Errorf("query payment status: %w", err)
	}
	if !status.Paid() {
		return order, nil
	}

	won, err := s.orders.Settle(ctx, order.ID, status.TransactionID, func(tx *sql.Tx) error {
		relatedID := order.ID
		if _, err := s.credits.AdjustTx(ctx, tx, order.UserID, order.Credits, models.CreditPurchase, "购买积分: "+order.OrderNo, &relatedID); err != nil {
			return fmt.Errorf("grant purchased credits: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("order settlement failed", "order_no", order.OrderNo, "user_id", order.UserID, "error", err)
		return nil, fmt.Errorf("settle order: %w", err)
	}
	if won {
		s.log.Info("order settled", "order_no", order.OrderNo, "credits", order.Credits)
	}
	return s.orders.Get(ctx, order.ID)
}

func (s *OrderService) List(ctx context.Context, userID int64, offset, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (s *OrderService) Products(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []models.Product{}
	}
	return products, nil
}

func newOrderNo() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

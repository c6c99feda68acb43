package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/payment"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	seq    int64
	orders map[int64]*models.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[int64]*models.Order{}}
}

func (f *fakeOrderStore) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *order
	cp.ID = f.seq
	cp.Status = models.OrderPending
	f.orders[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeOrderStore) Get(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) GetByOrderNo(_ context.Context, orderNo string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.OrderNo == orderNo {
			cp := *order
			return &cp, nil
		}
	}
	return nil, nil
}

// Settle mirrors the real store: the grant and both status changes
// commit together or not at all.
func (f *fakeOrderStore) Settle(_ context.Context, id int64, paymentID string, grant func(tx *sql.Tx) error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok || order.Status != models.OrderPending {
		return false, nil
	}
	if err := grant(nil); err != nil {
		return false, err
	}
	order.Status = models.OrderCompleted
	order.PaymentID = &paymentID
	return true, nil
}

func (f *fakeOrderStore) ListByUser(context.Context, int64, int, int) ([]models.Order, error) {
	return nil, nil
}

type fakeSettleLedger struct {
	mu        sync.Mutex
	adjustErr error
	records   []models.CreditRecord
}

func (f *fakeSettleLedger) AdjustTx(_ context.Context, _ *sql.Tx, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		return nil, f.adjustErr
	}
	rec := models.CreditRecord{
		UserID: userID, Amount: amount,
		Type: creditType, Description: description, RelatedID: relatedID,
	}
	f.records = append(f.records, rec)
	return &rec, nil
}

type fakeGateway struct {
	state string
	calls int
	err   error
}

func (f *fakeGateway) QueryStatus(_ context.Context, orderNo string) (*payment.Status, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Status{OutTradeNo: orderNo, TransactionID: "tx-1", TradeState: f.state}, nil
}

type fakeProductStore struct {
	products map[int64]*models.Product
}

func (f *fakeProductStore) Get(_ context.Context, id int64) (*models.Product, error) {
	return f.products[id], nil
}

func (f *fakeProductStore) ListActive(context.Context) ([]models.Product, error) {
	products := make([]models.Product, 0, len(f.products))
	for _, p := range f.products {
		if p.IsActive {
			products = append(products, *p)
		}
	}
	return products, nil
}

type orderFixture struct {
	svc     *OrderService
	orders  *fakeOrderStore
	led     *fakeSettleLedger
	gateway *fakeGateway
}

func newOrderFixture(tradeState string) *orderFixture {
	orders := newFakeOrderStore()
	products := &fakeProductStore{products: map[int64]*models.Product{
		1: {ID: 1, Name: "100 积分", Amount: 990, Credits: 100, IsActive: true},
	}}
	led := &fakeSettleLedger{}
	gateway := &fakeGateway{state: tradeState}
	svc := NewOrderService(orders, products, led, gateway, discardLogger())
	return &orderFixture{svc: svc, orders: orders, led: led, gateway: gateway}
}

func TestQueryStatusSettlesPaidOrder(t *testing.T) {
	fx := newOrderFixture("SUCCESS")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	settled, err := fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, settled.Status)

	require.Len(t, fx.led.records, 1)
	rec := fx.led.records[0]
	assert.Equal(t, 100, rec.Amount)
	assert.Equal(t, models.CreditPurchase, rec.Type)
	require.NotNil(t, rec.RelatedID)
	assert.Equal(t, order.ID, *rec.RelatedID)
}

func TestQueryStatusGrantFailureKeepsOrderRetryable(t *testing.T) {
	fx := newOrderFixture("SUCCESS")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	fx.led.adjustErr = errors.New("deadlock")
	_, err = fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.Error(t, err)

	// The failed grant must roll the status change back so the next
	// poll can settle the order.
	stored, err := fx.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.Status)
	assert.Empty(t, fx.led.records)

	fx.led.adjustErr = nil
	settled, err := fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, settled.Status)
	assert.Len(t, fx.led.records, 1, "credits are granted exactly once")
}

func TestQueryStatusSettledOrderShortCircuits(t *testing.T) {
	fx := newOrderFixture("SUCCESS")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	_, err = fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.NoError(t, err)
	require.Equal(t, 1, fx.gateway.calls)

	again, err := fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, again.Status)
	assert.Equal(t, 1, fx.gateway.calls, "settled orders skip the gateway")
	assert.Len(t, fx.led.records, 1)
}

func TestQueryStatusUnpaidOrderStaysPending(t *testing.T) {
	fx := newOrderFixture("NOTPAY")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	got, err := fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Empty(t, fx.led.records)
}

func TestQueryStatusForeignOrderRejected(t *testing.T) {
	fx := newOrderFixture("SUCCESS")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	_, err = fx.svc.QueryStatus(context.Background(), 8, order.OrderNo)
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, 0, fx.gateway.calls)
}

func TestQueryStatusGatewayErrorDoesNotSettle(t *testing.T) {
	fx := newOrderFixture("SUCCESS")
	order, err := fx.svc.Create(context.Background(), 7, 1)
	require.NoError(t, err)

	fx.gateway.err = fmt.Errorf("gateway unreachable")
	_, err = fx.svc.QueryStatus(context.Background(), 7, order.OrderNo)
	require.Error(t, err)

	stored, err := fx.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.Status)
}

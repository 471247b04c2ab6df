package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"food_order/internal/model"
	"food_order/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUpdater struct {
	mock.Mock
}

func (m *mockUpdater) UpdateStatus(ctx context.Context, orderID uint, target string) (*model.Order, error) {
	args := m.Called(orderID, target)
	o, _ := args.Get(0).(*model.Order)
	return o, args.Error(1)
}

func TestStatusCommandValidate(t *testing.T) {
	assert.Error(t, StatusCommand{Status: "preparing"}.Validate())
	assert.Error(t, StatusCommand{OrderID: 1}.Validate())
	assert.NoError(t, StatusCommand{OrderID: 1, Status: "preparing"}.Validate())
}

func TestHandleStatusCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("applies command", func(t *testing.T) {
		u := &mockUpdater{}
		u.On("UpdateStatus", uint(5), "on_the_way").Return(&model.Order{ID: 5}, nil).Once()
		require.NoError(t, handleStatusCommand(ctx, u, []byte(`{"order_id":5,"status":"on_the_way","source":"courier"}`)))
		u.AssertExpectations(t)
	})

	t.Run("malformed json", func(t *testing.T) {
		u := &mockUpdater{}
		assert.Error(t, handleStatusCommand(ctx, u, []byte(`{not json`)))
		u.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	})

	t.Run("missing fields", func(t *testing.T) {
		u := &mockUpdater{}
		assert.Error(t, handleStatusCommand(ctx, u, []byte(`{"status":"delivered"}`)))
		u.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	})

	t.Run("rejected transition is not retried", func(t *testing.T) {
		u := &mockUpdater{}
		rejected := &service.Error{Kind: service.ErrValidation, Message: "cannot transition from 'delivered' to 'preparing'"}
		u.On("UpdateStatus", uint(3), "preparing").Return(nil, rejected)
		err := handleStatusCommand(ctx, u, []byte(`{"order_id":3,"status":"preparing"}`))
		require.Error(t, err)
		assert.True(t, service.IsValidation(err))
		u.AssertNumberOfCalls(t, "UpdateStatus", 1)
	})

	t.Run("conflict is retried", func(t *testing.T) {
		u := &mockUpdater{}
		conflict := &service.Error{Kind: service.ErrConflict, Message: "order 8 status changed concurrently, please retry"}
		u.On("UpdateStatus", uint(8), "delivered").Return(nil, conflict).Once()
		u.On("UpdateStatus", uint(8), "delivered").Return(&model.Order{ID: 8}, nil).Once()
		require.NoError(t, handleStatusCommand(ctx, u, []byte(`{"order_id":8,"status":"delivered"}`)))
		u.AssertNumberOfCalls(t, "UpdateStatus", 2)
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		u := &mockUpdater{}
		conflict := &service.Error{Kind: service.ErrConflict, Message: "conflict"}
		u.On("UpdateStatus", uint(9), "delivered").Return(nil, conflict)
		err := handleStatusCommand(ctx, u, []byte(`{"order_id":9,"status":"delivered"}`))
		assert.True(t, service.IsConflict(err))
		u.AssertNumberOfCalls(t, "UpdateStatus", maxCommandAttempts)
	})

	t.Run("storage error", func(t *testing.T) {
		u := &mockUpdater{}
		u.On("UpdateStatus", uint(1), "preparing").Return(nil, errors.New("db gone"))
		err := handleStatusCommand(ctx, u, []byte(`{"order_id":1,"status":"preparing"}`))
		assert.ErrorContains(t, err, "db gone")
	})
}

func TestConsumerAppliesCommandsThroughLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := service.New(db)
	p, err := svc.Catalog.CreateProduct(context.Background(), service.ProductInput{Name: "Tea", Price: decimal.NewFromInt(2)})
	require.NoError(t, err)
	addr, err := svc.Catalog.CreateAddress(context.Background(), 1, service.AddressInput{City: "Hangzhou", Street: "West Lake Rd"})
	require.NoError(t, err)
	_, err = svc.Cart.AddItem(context.Background(), 1, p.ID, 1)
	require.NoError(t, err)
	order, err := svc.Orders.CreateOrder(context.Background(), 1, addr.ID, "")
	require.NoError(t, err)

	require.NoError(t, handleStatusCommand(context.Background(), svc.Lifecycle, []byte(fmt.Sprintf(`{"order_id":%d,"status":"preparing"}`, order.ID))))
	require.Error(t, handleStatusCommand(context.Background(), svc.Lifecycle, []byte(fmt.Sprintf(`{"order_id":%d,"status":"delivered"}`, order.ID))))

	got, err := svc.Orders.GetOrder(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, got.Status)
	assert.Len(t, got.History, 2)
}

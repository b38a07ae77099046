package services

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func TestPushNotifierSendsToRegisteredDevices(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	withToken := &models.User{Username: "ana", Email: "ana@example.com", Role: models.RoleRider}
	without := &models.User{Username: "ben", Email: "ben@example.com", Role: models.RoleRider}
	require.NoError(t, store.CreateUser(ctx, withToken))
	require.NoError(t, store.CreateUser(ctx, without))

	sender := &mockSender{}
	notifier := NewPushNotifier(store, sender, quietLogger())
	require.NoError(t, notifier.RegisterToken(ctx, withToken.ID, "device-1"))

	sender.On("Send", mock.Anything, mock.MatchedBy(func(m *messaging.Message) bool {
		return m.Token == "device-1" &&
			m.Notification.Title == "Booking accepted" &&
			m.Data["bookingId"] == "12" &&
			m.Data["paymentRequestId"] == "3"
	})).Return("msg-1", nil).Once()

	err := notifier.Deliver(ctx, []models.DomainEvent{
		{ID: 5, Type: models.EventBookingAccepted, TargetUserID: withToken.ID, TargetUserRole: models.RoleRider,
			Payload: models.EventPayload{BookingID: 12, PaymentRequestID: 3}},
		{ID: 6, Type: models.EventBookingAccepted, TargetUserID: without.ID, TargetUserRole: models.RoleRider,
			Payload: models.EventPayload{BookingID: 13}},
	})
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestPushNotifierReportsFailures(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	user := &models.User{Username: "ana", Email: "ana@example.com", Role: models.RoleRider, FCMToken: "device-1"}
	require.NoError(t, store.CreateUser(ctx, user))

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return("", errors.New("unregistered"))
	notifier := NewPushNotifier(store, sender, quietLogger())

	err := notifier.Deliver(ctx, []models.DomainEvent{{ID: 1, Type: models.EventBookingUpdated, TargetUserID: user.ID}})
	assert.EqualError(t, err, "1 of 1 push notifications failed")
}

func TestDescribeUnavailableUpdate(t *testing.T) {
	text := describe(models.DomainEvent{Type: models.EventBookingUpdated, Payload: models.EventPayload{BookingID: 4, Unavailable: true}})
	assert.Equal(t, "Bike no longer available", text.title)

	text = describe(models.DomainEvent{Type: models.EventBookingUpdated, Payload: models.EventPayload{BookingID: 4}})
	assert.Equal(t, "Booking updated", text.title)
}

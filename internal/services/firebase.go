package services

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// MessageSender is the part of the FCM client the notifier uses.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushNotifier is an event sink that sends each domain event as an FCM
// push to the addressed user's registered device.
type PushNotifier struct {
	store  database.Store
	sender MessageSender
	logger *logrus.Logger
}

// NewMessagingClient initializes the Firebase Admin SDK from a service
// account file. It returns nil when no path is configured.
func NewMessagingClient(ctx context.Context, serviceAccountPath string) (*messaging.Client, error) {
	if serviceAccountPath == "" {
		return nil, nil
	}

	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return client, nil
}

func NewPushNotifier(store database.Store, sender MessageSender, logger *logrus.Logger) *PushNotifier {
	return &PushNotifier{store: store, sender: sender, logger: logger}
}

type notificationText struct {
	title string
	body  string
}

func describe(e models.DomainEvent) notificationText {
	id := e.Payload.BookingID
	switch e.Type {
	case models.EventBookingCreated:
		return notificationText{"New booking request", fmt.Sprintf("Booking #%d is waiting for your answer", id)}
	case models.EventBookingAccepted:
		return notificationText{"Booking accepted", fmt.Sprintf("Booking #%d was accepted. Pay the deposit to secure it", id)}
	case models.EventBookingRejected:
		return notificationText{"Booking declined", fmt.Sprintf("Booking #%d was declined", id)}
	case models.EventBookingCompleted:
		return notificationText{"Rental completed", fmt.Sprintf("Booking #%d is complete. Thanks for riding", id)}
	case models.EventPaymentCompleted:
		return notificationText{"Payment received", fmt.Sprintf("Payment for booking #%d was received", id)}
	}
	if e.Payload.Unavailable {
		return notificationText{"Bike no longer available", fmt.Sprintf("The dates of booking #%d were taken", id)}
	}
	return notificationText{"Booking updated", fmt.Sprintf("Booking #%d was updated", id)}
}

func eventData(e models.DomainEvent) map[string]string {
	data := map[string]string{
		"eventId":   strconv.FormatUint(uint64(e.ID), 10),
		"type":      string(e.Type),
		"bookingId": strconv.FormatUint(uint64(e.Payload.BookingID), 10),
	}
	if e.Payload.Status != "" {
		data["status"] = string(e.Payload.Status)
	}
	if e.Payload.PaymentRequestID != 0 {
		data["paymentRequestId"] = strconv.FormatUint(uint64(e.Payload.PaymentRequestID), 10)
	}
	return data
}

// Deliver pushes every event whose target has a device token. Users without
// a token are skipped; they still get the event on their next poll.
func (p *PushNotifier) Deliver(ctx context.Context, events []models.DomainEvent) error {
	if p.sender == nil {
		return nil
	}
	var failed int
	for _, e := range events {
		user, err := p.store.GetUser(ctx, e.TargetUserID)
		if err != nil || user.FCMToken == "" {
			continue
		}

		text := describe(e)
		message := &messaging.Message{
			Notification: &messaging.Notification{
				Title: text.title,
				Body:  text.body,
			},
			Data:  eventData(e),
			Token: user.FCMToken,
			Android: &messaging.AndroidConfig{
				Priority: "high",
				Notification: &messaging.AndroidNotification{
					ChannelID:    "bookings",
					DefaultSound: true,
				},
			},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{Sound: "default", ContentAvailable: true},
				},
			},
		}

		if _, err := p.sender.Send(ctx, message); err != nil {
			failed++
			p.logger.WithError(err).WithFields(logrus.Fields{
				"eventId": e.ID,
				"userId":  e.TargetUserID,
			}).Warn("push notification failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d push notifications failed", failed, len(events))
	}
	return nil
}

// RegisterToken stores the device token pushes go to. An empty token
// unregisters the device.
func (p *PushNotifier) RegisterToken(ctx context.Context, userID uint, token string) error {
	return p.store.UpdateUserToken(ctx, userID, token)
}

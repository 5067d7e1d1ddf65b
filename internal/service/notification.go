package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aquabill/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationPaymentSuccess   NotificationType = "PAYMENT_SUCCESS"
	NotificationPaymentFailed    NotificationType = "PAYMENT_FAILED"
	NotificationPaymentCancelled NotificationType = "PAYMENT_CANCELLED"
	NotificationPaymentRefunded  NotificationType = "PAYMENT_REFUNDED"
	NotificationReceiptReady     NotificationType = "RECEIPT_READY"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string // customer ID
	Email       string
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// Sender delivers a notification over a concrete channel (email, SMS).
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationService formats payment notifications and hands them to the
// configured senders.
type NotificationService struct {
	senders []Sender
	logger  *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(logger *zap.Logger, senders ...Sender) *NotificationService {
	return &NotificationService{
		senders: senders,
		logger:  logger.Named("notification"),
	}
}

// NotifyPaymentOutcome tells the customer that a payment was rejected,
// cancelled or refunded.
func (s *NotificationService) NotifyPaymentOutcome(ctx context.Context, payment *domain.Payment, customer *domain.Customer) error {
	n := Notification{
		RecipientID: payment.CustomerID,
		Data: map[string]any{
			"external_reference": payment.ExternalReference,
			"amount":             payment.Amount.String(),
			"currency":           payment.Currency,
		},
		CreatedAt: time.Now(),
	}
	if customer != nil {
		n.Email = customer.Email
	}

	switch payment.Status {
	case domain.PaymentStatusFailed:
		n.Type = NotificationPaymentFailed
		n.Title = "Payment Failed"
		n.Message = "Your payment of " + formatMoney(payment.Amount, payment.Currency) + " was rejected. Please try again."
	case domain.PaymentStatusCancelled:
		n.Type = NotificationPaymentCancelled
		n.Title = "Payment Cancelled"
		n.Message = "Your payment of " + formatMoney(payment.Amount, payment.Currency) + " was cancelled."
	case domain.PaymentStatusRefunded:
		n.Type = NotificationPaymentRefunded
		n.Title = "Payment Refunded"
		n.Message = "Your payment of " + formatMoney(payment.Amount, payment.Currency) + " was refunded."
	case domain.PaymentStatusCompleted:
		n.Type = NotificationPaymentSuccess
		n.Title = "Payment Successful"
		n.Message = "Your payment of " + formatMoney(payment.Amount, payment.Currency) + " was successful."
	default:
		return nil
	}

	return s.send(ctx, n)
}

// NotifyReceiptReady sends the formatted receipt to the customer.
func (s *NotificationService) NotifyReceiptReady(ctx context.Context, receipt *domain.Receipt, body string) error {
	return s.send(ctx, Notification{
		Type:        NotificationReceiptReady,
		RecipientID: receipt.CustomerID,
		Email:       receipt.CustomerEmail,
		Title:       "Payment Receipt " + receipt.ExternalReference,
		Message:     body,
		Data: map[string]any{
			"receipt_id":         receipt.ID,
			"external_reference": receipt.ExternalReference,
			"total":              receipt.Total.String(),
			"currency":           receipt.Currency,
		},
		CreatedAt: time.Now(),
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	n.ID = uuid.NewString()

	s.logger.Info("notification",
		zap.String("type", string(n.Type)),
		zap.String("recipient", n.RecipientID),
		zap.String("title", n.Title),
		zap.Any("data", n.Data),
	)

	for _, sender := range s.senders {
		if err := sender.Send(ctx, n); err != nil {
			return err
		}
	}

	return nil
}

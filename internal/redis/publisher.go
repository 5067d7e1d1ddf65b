package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentUpdate is pushed to the portal clients watching a customer.
type PaymentUpdate struct {
	ExternalReference string    `json:"external_reference"`
	Status            string    `json:"status"`
	InvoiceIDs        []string  `json:"invoice_ids"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	At                time.Time `json:"at"`
}

// Publisher pushes real-time updates over Redis pub/sub. The websocket
// gateway subscribes to the per-customer channels.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a new Publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// CustomerChannel is the channel carrying a customer's payment updates.
func CustomerChannel(customerID string) string {
	return "portal:customer:" + customerID + ":payments"
}

// PublishPaymentUpdate publishes an update and returns the number of
// subscribers that received it.
func (p *Publisher) PublishPaymentUpdate(ctx context.Context, customerID string, update PaymentUpdate) (int64, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return 0, err
	}
	return p.client.Publish(ctx, CustomerChannel(customerID), data).Result()
}

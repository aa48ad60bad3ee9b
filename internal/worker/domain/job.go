package domain

import (
	"github.com/cuongbtq/storybook-be/internal/dispatch"
	amqp "github.com/rabbitmq/amqp091-go"
)

// StageJob is a validated stage message together with the delivery that
// must be acknowledged once it is processed
type StageJob struct {
	dispatch.Message
	Delivery amqp.Delivery
}

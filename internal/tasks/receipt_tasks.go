package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
)

// OrderFinder loads an order by id.
type OrderFinder interface {
	FindByID(ctx context.Context, orderID string) (*models.PaymentOrder, error)
}

// SendReceiptTaskDef e-mails the receipt of a completed order.
// Arguments: order_id.
type SendReceiptTaskDef struct {
	orders OrderFinder
	mailer services.Mailer
	logger *zap.Logger
}

func (t *SendReceiptTaskDef) TaskID() string {
	return services.SendReceiptTaskName
}

func (t *SendReceiptTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	orderID, _ := task.Arguments["order_id"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("order_id not provided")
	}

	order, err := t.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return map[string]interface{}{"status": "skipped", "reason": "order not found"}, nil
		}
		return nil, err
	}
	if order.Status != models.OrderStatusComplete {
		return map[string]interface{}{"status": "skipped", "reason": "order not complete"}, nil
	}
	if order.CustomerEmail == "" {
		return map[string]interface{}{"status": "skipped", "reason": "no email"}, nil
	}

	subject, body := services.ReceiptMessage(order)
	if err := t.mailer.SendEmail([]string{order.CustomerEmail}, subject, body); err != nil {
		return nil, err
	}

	t.logger.Info("Receipt sent", zap.String("order_id", order.OrderID))
	return map[string]interface{}{"status": "sent", "to": order.CustomerEmail}, nil
}

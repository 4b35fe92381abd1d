package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/port"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyPurchased  = errors.New("already purchased")
)

const orderIDPrefix = "order"

// AdmissionService is the synchronous hot path: mint an order id, then make
// the single-round-trip admission decision. Persistence happens later on
// the consumer side; a caller that gets an order id back holds an admitted,
// durably enqueued order.
type AdmissionService struct {
	gate   port.AdmissionGate
	ids    port.IDGenerator
	logger zerolog.Logger
}

func NewAdmissionService(gate port.AdmissionGate, ids port.IDGenerator, logger zerolog.Logger) *AdmissionService {
	return &AdmissionService{gate: gate, ids: ids, logger: logger}
}

func (s *AdmissionService) Purchase(ctx context.Context, userID, itemID int64) (uint64, error) {
	orderID, err := s.ids.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	result, err := s.gate.Admit(ctx, itemID, userID, orderID)
	if err != nil {
		// Fail closed: a store failure is a rejection, never an admission.
		return 0, fmt.Errorf("admission gate: %w", err)
	}

	switch result {
	case port.AdmissionAccepted:
		s.logger.Debug().
			Uint64("order_id", orderID).
			Int64("user_id", userID).
			Int64("item_id", itemID).
			Msg("order admitted")
		return orderID, nil
	case port.AdmissionOutOfStock:
		return 0, ErrInsufficientStock
	case port.AdmissionDuplicate:
		return 0, ErrAlreadyPurchased
	default:
		return 0, fmt.Errorf("unknown admission result %d", result)
	}
}

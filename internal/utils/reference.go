package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// Prefixes used for generated references
const (
	OrderReferencePrefix = "ORD"
)

// OrderPaymentReference builds a gateway reference for an order. The order
// id prefix makes references greppable in gateway dashboards.
func OrderPaymentReference(orderID uuid.UUID) (string, error) {
	ref, err := GenerateTransactionReference(OrderReferencePrefix)
	if err != nil {
		return "", fmt.Errorf("error generating payment reference: %w", err)
	}
	return ref + "_" + orderID.String()[:8], nil
}

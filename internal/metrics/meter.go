package metrics

import (
	"context"
	"fmt"
	"strings"
)

// ChargeMeter records billable events as Prometheus counters.
type ChargeMeter struct{}

// NewChargeMeter returns a meter backed by harvester_ocr_charges_total.
func NewChargeMeter() *ChargeMeter {
	Init()
	return &ChargeMeter{}
}

// Charge counts one occurrence of event.
func (ChargeMeter) Charge(ctx context.Context, event string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("charge %s: %w", event, err)
	}
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("charge event name is required")
	}
	ObserveOCRCharge(event)
	return nil
}

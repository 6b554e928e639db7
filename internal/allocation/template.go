package allocation

import (
	"errors"
	"fmt"

	"refundly.org/internal/fees"
	"refundly.org/internal/ids"
	"refundly.org/internal/obs"
)

// TemplateItem is a default line item declared by a template. Amount is a
// flat default in cents; when FeeScheduleID is set the amount is resolved
// through the referenced fee schedule instead.
type TemplateItem struct {
	Label         string   `json:"label"`
	Type          ItemType `json:"type"`
	Required      bool     `json:"required"`
	Amount        int64    `json:"amount,omitempty"`
	FeeScheduleID string   `json:"fee_schedule_id,omitempty"`
}

// Template is a reusable set of default line items for new allocations.
type Template struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Items []TemplateItem `json:"items"`
}

// ApplyTemplate instantiates a template's items for the given refund,
// assigning generated ids and resolving schedule-based amounts. Required
// flags survive instantiation; editing surfaces must keep required items
// present and only adjust their compatible fields.
//
// A schedule that resolves to no matching tier is charged as zero with a
// warning log, per the fee engine contract. A schedule id the lookup does
// not know at all is a hard error.
func ApplyTemplate(t Template, totalRefund int64, schedules map[string]fees.Schedule) ([]Item, error) {
	if totalRefund < 0 {
		return nil, ErrInvalidRefund
	}
	items := make([]Item, 0, len(t.Items))
	for _, ti := range t.Items {
		amount := ti.Amount
		if ti.FeeScheduleID != "" {
			s, ok := schedules[ti.FeeScheduleID]
			if !ok {
				return nil, fmt.Errorf("allocation: template %s references unknown fee schedule %s", t.ID, ti.FeeScheduleID)
			}
			fee, err := fees.ComputeFee(s, totalRefund)
			if err != nil {
				var cfg *fees.ConfigError
				if !errors.As(err, &cfg) {
					return nil, err
				}
				obs.LogWarn("fee schedule gap, charging zero", map[string]any{
					"template_id": t.ID,
					"schedule_id": ti.FeeScheduleID,
					"refund":      totalRefund,
				})
				fee = 0
			}
			amount = fee
		}
		items = append(items, Item{
			ID:       ids.New(),
			Label:    ti.Label,
			Amount:   amount,
			Type:     ti.Type,
			Required: ti.Required,
		})
	}
	return items, nil
}

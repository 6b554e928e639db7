package allocation

// Validate enforces the allocation invariant against a proposed item set and
// derives the client payout. It returns the payout when the items fit inside
// the refund, or a *ValidationError describing exactly how they do not.
//
// Negative amounts are a distinct failure identifying the offending item;
// they are never clamped to zero. The function is pure: identical inputs
// always produce identical results.
func Validate(totalRefund int64, items []Item) (int64, error) {
	if totalRefund < 0 {
		return 0, ErrInvalidRefund
	}
	var sum int64
	for _, it := range items {
		if it.Amount < 0 {
			return 0, &ValidationError{Reason: ReasonNegativeAmount, ItemID: it.ID}
		}
		sum += it.Amount
	}
	if sum > totalRefund {
		return 0, &ValidationError{Reason: ReasonExceedsRefund, OverBy: sum - totalRefund}
	}
	return totalRefund - sum, nil
}

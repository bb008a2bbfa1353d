package escrow

// FeeSchedule is the single source of truth for how a bounty splits between
// the platform and the finder. Amounts are cents.
type FeeSchedule struct {
	// PlatformBps is the platform's cut in basis points.
	PlatformBps int64
}

// DefaultFeeSchedule keeps 10% for the platform.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{PlatformBps: 1000}
}

// Fee returns the platform's share of amount, rounded half up.
func (f FeeSchedule) Fee(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return (amountCents*f.PlatformBps + 5000) / 10000
}

// FinderShare returns what the finder receives. Fee + FinderShare always
// equals the original amount, so rounding never creates or destroys a cent.
func (f FeeSchedule) FinderShare(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return amountCents - f.Fee(amountCents)
}

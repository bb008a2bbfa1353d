package escrow

import "testing"

func TestFeeRoundsHalfUp(t *testing.T) {
	fees := DefaultFeeSchedule()
	cases := []struct {
		amount int64
		fee    int64
	}{
		{100, 10},
		{999, 100},   // 99.9 rounds up
		{994, 99},    // 99.4 rounds down
		{995, 100},   // exactly half rounds up
		{10000, 1000},
		{1, 0},
		{4, 0},
		{5, 1},
	}
	for _, tc := range cases {
		if got := fees.Fee(tc.amount); got != tc.fee {
			t.Errorf("Fee(%d) = %d, want %d", tc.amount, got, tc.fee)
		}
	}
}

func TestFinderShareConservation(t *testing.T) {
	fees := DefaultFeeSchedule()
	for _, amount := range []int64{100, 101, 999, 1000, 12345, 99999, 1000000} {
		fee := fees.Fee(amount)
		share := fees.FinderShare(amount)
		if fee+share != amount {
			t.Errorf("amount %d splits into fee %d + share %d; sum %d", amount, fee, share, fee+share)
		}
		if share < 0 || fee < 0 {
			t.Errorf("amount %d produced negative split: fee %d share %d", amount, fee, share)
		}
	}
}

func TestCustomFeeSchedule(t *testing.T) {
	fees := FeeSchedule{PlatformBps: 250}
	if got := fees.Fee(10000); got != 250 {
		t.Fatalf("Fee(10000) at 250bps = %d, want 250", got)
	}
	if got := fees.FinderShare(10000); got != 9750 {
		t.Fatalf("FinderShare(10000) at 250bps = %d, want 9750", got)
	}
}

package engine

import (
	"math/big"
	"testing"
)

func TestEthToWei(t *testing.T) {
	tests := []struct {
		eth  float64
		want string
	}{
		{0.01, "10000000000000000"},
		{0.02, "20000000000000000"},
		{1, "1000000000000000000"},
		{0.0001, "100000000000000"},
		{0.12345, "123500000000000000"}, // rounded to 4 decimals
		{0, "0"},
		{-1, "0"},
	}

	for _, tt := range tests {
		want, _ := new(big.Int).SetString(tt.want, 10)
		if got := EthToWei(tt.eth); got.Cmp(want) != 0 {
			t.Errorf("EthToWei(%v) = %s, want %s", tt.eth, got, want)
		}
	}
}

func TestWeiToEth(t *testing.T) {
	wei, _ := new(big.Int).SetString("10000000000000000", 10)
	if got := WeiToEth(wei); got != 0.01 {
		t.Errorf("WeiToEth = %v, want 0.01", got)
	}
	if got := WeiToEth(nil); got != 0 {
		t.Errorf("WeiToEth(nil) = %v, want 0", got)
	}
}

func TestDrawAmountDegenerateRange(t *testing.T) {
	want := EthToWei(0.01)
	for i := 0; i < 20; i++ {
		if got := DrawAmount(0.01, 0.01); got.Cmp(want) != 0 {
			t.Fatalf("DrawAmount(0.01, 0.01) = %s, want %s", got, want)
		}
	}
}

func TestDrawAmountWithinRange(t *testing.T) {
	min := EthToWei(0.01)
	max := EthToWei(0.02)

	for i := 0; i < 100; i++ {
		got := DrawAmount(0.01, 0.02)
		if got.Cmp(min) < 0 || got.Cmp(max) > 0 {
			t.Fatalf("DrawAmount = %s, outside [%s, %s]", got, min, max)
		}
		// Quantized to 0.0001 steps.
		if new(big.Int).Mod(got, weiPerTenThousandth).Sign() != 0 {
			t.Fatalf("DrawAmount = %s, not a 0.0001 multiple", got)
		}
	}
}

func TestFmtEth(t *testing.T) {
	if got := fmtEth(EthToWei(0.01)); got != "0.0100" {
		t.Errorf("fmtEth = %q, want \"0.0100\"", got)
	}
}

package ocr

import "testing"

func TestBestPriceCurrencyPriority(t *testing.T) {
	// "2" from the product size comes first, but the $-marked price wins.
	p, raw, ok := BestPriceFromMatches(FindAllMatches("Milk 2L\nNOW $4.29"))
	if !ok || !near(p, 4.29) {
		t.Fatalf("expected 4.29 got %v raw=%s", p, raw)
	}
}

func TestBestPriceFirstOnTie(t *testing.T) {
	p, _, ok := BestPriceFromMatches([]string{"3.49", "5.99"})
	if !ok || !near(p, 3.49) {
		t.Fatalf("expected first match 3.49 got %v", p)
	}
	if _, _, ok := BestPriceFromMatches([]string{"0", "$0.00"}); ok {
		t.Fatalf("zero prices must be rejected")
	}
}

package market_test

import (
	"errors"
	"strings"
	"testing"

	"powercast/pkg/market"
)

// go test -v --run TestParseProduct
func TestParseProduct(t *testing.T) {
	p, err := market.ParseProduct("dalmp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != market.ProductDALMP {
		t.Errorf("expected DALMP, got %s", p)
	}

	if _, err := market.ParseProduct("SOLAR"); err == nil {
		t.Fatal("expected error for unknown product, got nil")
	}
}

// go test -v --run TestInvalidProductErrorEnumeratesValidSet
func TestInvalidProductErrorEnumeratesValidSet(t *testing.T) {
	_, err := market.ParseProduct("BOGUS")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var invalid *market.InvalidProductError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidProductError, got %T", err)
	}

	msg := err.Error()
	for _, p := range market.Products() {
		if !strings.Contains(msg, string(p)) {
			t.Errorf("error message %q does not name valid product %s", msg, p)
		}
	}
}

// go test -v --run TestProductsStableOrder
func TestProductsStableOrder(t *testing.T) {
	first := market.Products()
	second := market.Products()
	if len(first) != len(second) {
		t.Fatalf("product set size changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("product order not stable at %d: %s vs %s", i, first[i], second[i])
		}
	}
}

package market

import (
	"fmt"
	"sort"
	"strings"
)

// Product identifies a forecasted market product.
type Product string

const (
	ProductDALMP Product = "DALMP" // day-ahead locational marginal price
	ProductRTLMP Product = "RTLMP" // real-time locational marginal price
	ProductRegUp Product = "REGUP" // regulation up
	ProductRegDn Product = "REGDN" // regulation down
	ProductRRS   Product = "RRS"   // responsive reserve service
)

// validProducts is the fixed enumeration of products this system forecasts.
var validProducts = map[Product]struct{}{
	ProductDALMP: {},
	ProductRTLMP: {},
	ProductRegUp: {},
	ProductRegDn: {},
	ProductRRS:   {},
}

// IsValid checks if the Product is a member of the fixed enumeration.
func (p Product) IsValid() bool {
	_, ok := validProducts[p]
	return ok
}

// Products returns the valid product set in stable order.
func Products() []Product {
	out := make([]Product, 0, len(validProducts))
	for p := range validProducts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseProduct parses a string into a valid Product.
func ParseProduct(s string) (Product, error) {
	p := Product(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", &InvalidProductError{Product: string(p)}
	}
	return p, nil
}

// InvalidProductError reports a product outside the fixed enumeration.
// The error message enumerates the valid set.
type InvalidProductError struct {
	Product string
}

func (e *InvalidProductError) Error() string {
	valid := Products()
	names := make([]string, len(valid))
	for i, p := range valid {
		names[i] = string(p)
	}
	return fmt.Sprintf("invalid product %q: valid products are %s",
		e.Product, strings.Join(names, ", "))
}

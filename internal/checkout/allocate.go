package checkout

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocate splits discount across subtotals in proportion to each one's
// share of their sum. Shares are floored to the discount's smallest unit
// (at least cents) and the units left over go to the largest remainders,
// earlier entries first on ties, so the shares always add up to discount.
func Allocate(discount decimal.Decimal, subtotals []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(subtotals))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	total := decimal.Zero
	for _, s := range subtotals {
		total = total.Add(s)
	}
	if len(subtotals) == 0 || !discount.IsPositive() || !total.IsPositive() {
		return shares
	}

	places := int32(2)
	if exp := -discount.Exponent(); exp > places {
		places = exp
	}
	unit := decimal.New(1, -places)

	remainders := make([]decimal.Decimal, len(subtotals))
	allocated := decimal.Zero
	for i, s := range subtotals {
		raw := discount.Mul(s).Div(total)
		shares[i] = raw.RoundFloor(places)
		remainders[i] = raw.Sub(shares[i])
		allocated = allocated.Add(shares[i])
	}

	order := make([]int, len(subtotals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})

	left := discount.Sub(allocated).Div(unit).IntPart()
	for k := int64(0); k < left; k++ {
		i := order[int(k)%len(order)]
		shares[i] = shares[i].Add(unit)
	}

	return shares
}

package cart

import "github.com/shopspring/decimal"

type ShopGroup struct {
	ShopID int64
	Lines  []Line
}

// GroupByShop splits lines by owning shop. Shops appear in the order their
// first line appears and lines keep their relative order.
func GroupByShop(lines []Line) []ShopGroup {
	var groups []ShopGroup
	index := make(map[int64]int)
	for _, l := range lines {
		i, ok := index[l.ShopID]
		if !ok {
			i = len(groups)
			index[l.ShopID] = i
			groups = append(groups, ShopGroup{ShopID: l.ShopID})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}
	return groups
}

func Subtotal(g ShopGroup) decimal.Decimal {
	total := decimal.Zero
	for _, l := range g.Lines {
		total = total.Add(l.Total())
	}
	return total
}

func GrandTotal(groups []ShopGroup) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(Subtotal(g))
	}
	return total
}

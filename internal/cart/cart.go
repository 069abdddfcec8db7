// Package cart holds the cart state owned by the composition root and the
// pure aggregation used at checkout.
package cart

import (
	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

type Line struct {
	ShopID      int64             `json:"shop_id"`
	ProductID   int64             `json:"product_id"`
	ProductName string            `json:"product_name"`
	VariantID   int64             `json:"variant_id,omitempty"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	Quantity    int               `json:"quantity"`
	Selection   catalog.Selection `json:"selection,omitempty"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) sameUnit(productID, variantID int64) bool {
	return l.ProductID == productID && l.VariantID == variantID
}

// Clamp bounds a requested quantity by the resolved stock.
func Clamp(requested, stock int) int {
	if stock < 0 {
		stock = 0
	}
	if requested > stock {
		return stock
	}
	if requested < 0 {
		return 0
	}
	return requested
}

// Command mutates a State through State.Apply.
type Command interface {
	apply(s *State) error
}

// AddLine adds Quantity units of the product described by Catalog with the
// given selection. An existing line for the same variant is merged.
type AddLine struct {
	Catalog   *catalog.Catalog
	Selection catalog.Selection
	Quantity  int
}

type RemoveLine struct {
	ProductID int64
	VariantID int64
}

// SetQuantity replaces the quantity of an existing line, checked against
// the stock resolved from Catalog.
type SetQuantity struct {
	Catalog   *catalog.Catalog
	VariantID int64
	Quantity  int
}

type Clear struct{}

// State is the cart. It is not safe for concurrent use.
type State struct {
	lines []Line
}

func (s *State) Apply(cmd Command) error {
	return cmd.apply(s)
}

// Lines returns a copy of the current lines in insertion order.
func (s *State) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *State) Len() int { return len(s.lines) }

func (c AddLine) apply(s *State) error {
	if c.Catalog == nil {
		return models.Invalid("product", "is required")
	}
	if c.Quantity < 1 {
		return models.Invalid("quantity", "must be at least 1")
	}
	p := c.Catalog.Product()
	if !c.Catalog.Complete(c.Selection) {
		return models.Invalid("selection", "choose one value for each of %v", c.Catalog.Axes())
	}

	variantID, _ := c.Catalog.Key(c.Selection)
	stock := c.Catalog.Resolve(c.Selection)

	idx := -1
	want := c.Quantity
	for i, l := range s.lines {
		if l.sameUnit(p.ID, variantID) {
			idx = i
			want += l.Quantity
			break
		}
	}

	if want > stock {
		return &models.StockInsufficientError{Shortfalls: []models.Shortfall{{
			ProductID: p.ID,
			VariantID: variantID,
			Selection: copySelection(c.Selection),
			Requested: want,
			Available: stock,
		}}}
	}

	if idx >= 0 {
		s.lines[idx].Quantity = want
		return nil
	}

	s.lines = append(s.lines, Line{
		ShopID:      p.ShopID,
		ProductID:   p.ID,
		ProductName: p.Name,
		VariantID:   variantID,
		UnitPrice:   c.Catalog.UnitPrice(c.Selection),
		Quantity:    c.Quantity,
		Selection:   copySelection(c.Selection),
	})
	return nil
}

func (c RemoveLine) apply(s *State) error {
	for i, l := range s.lines {
		if l.sameUnit(c.ProductID, c.VariantID) {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (c SetQuantity) apply(s *State) error {
	if c.Catalog == nil {
		return models.Invalid("product", "is required")
	}
	if c.Quantity < 1 {
		return models.Invalid("quantity", "must be at least 1")
	}
	p := c.Catalog.Product()
	for i, l := range s.lines {
		if !l.sameUnit(p.ID, c.VariantID) {
			continue
		}
		stock := c.Catalog.Resolve(l.Selection)
		if c.Quantity > stock {
			return &models.StockInsufficientError{Shortfalls: []models.Shortfall{{
				ProductID: p.ID,
				VariantID: c.VariantID,
				Selection: copySelection(l.Selection),
				Requested: c.Quantity,
				Available: stock,
			}}}
		}
		s.lines[i].Quantity = c.Quantity
		return nil
	}
	return models.Invalid("product", "product %d is not in the cart", p.ID)
}

func (Clear) apply(s *State) error {
	s.lines = nil
	return nil
}

func copySelection(sel catalog.Selection) catalog.Selection {
	if len(sel) == 0 {
		return nil
	}
	out := make(catalog.Selection, len(sel))
	for k, v := range sel {
		out[k] = v
	}
	return out
}

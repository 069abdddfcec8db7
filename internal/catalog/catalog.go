// Package catalog models a product's variant axes and resolves the stock of
// an attribute selection.
//
// A product either has no variants, in which case its flat stock applies, or
// it has a set of axes discovered from its variants. Each variant is kept as
// a tuple of values ordered like the axes; a variant missing an axis holds
// the empty string for it, so it only matches selections that explicitly
// choose "".
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

// Legacy axis names used by the variant_size / variant_color wire fields.
const (
	AxisSize  = "Taille"
	AxisColor = "Couleur"
)

var ErrDuplicateVariant = errors.New("duplicate variant combination")

type Kind int

const (
	KindNoVariants Kind = iota
	KindVarianted
)

func (k Kind) String() string {
	if k == KindVarianted {
		return "varianted"
	}
	return "no_variants"
}

// Selection maps an axis name to the chosen value.
type Selection map[string]string

type entry struct {
	variant models.Variant
	values  []string
}

type Catalog struct {
	product models.Product
	kind    Kind
	axes    []string
	axisIdx map[string]int
	entries []entry
	byKey   map[string]int
}

// New indexes the variants of p. It fails with ErrDuplicateVariant when two
// variants share the same tuple of values.
func New(p models.Product) (*Catalog, error) {
	c := &Catalog{
		product: p,
		axisIdx: make(map[string]int),
		byKey:   make(map[string]int),
	}
	if !p.HasVariants {
		return c, nil
	}
	c.kind = KindVarianted

	// Attribute maps carry no order, so axes a variant introduces together
	// are taken alphabetically.
	for _, v := range p.Variants {
		for _, name := range sortedKeys(v.Attributes) {
			if _, ok := c.axisIdx[name]; !ok {
				c.axisIdx[name] = len(c.axes)
				c.axes = append(c.axes, name)
			}
		}
	}

	for i, v := range p.Variants {
		if v.Stock < 0 {
			return nil, fmt.Errorf("variant %d of product %d: negative stock", v.ID, p.ID)
		}
		values := make([]string, len(c.axes))
		for name, value := range v.Attributes {
			values[c.axisIdx[name]] = value
		}
		key := tupleKey(values)
		if prev, ok := c.byKey[key]; ok {
			return nil, fmt.Errorf("product %d variants %d and %d: %w",
				p.ID, p.Variants[prev].ID, v.ID, ErrDuplicateVariant)
		}
		c.byKey[key] = i
		c.entries = append(c.entries, entry{variant: v, values: values})
	}

	return c, nil
}

func (c *Catalog) Product() models.Product { return c.product }

func (c *Catalog) Kind() Kind { return c.kind }

// Axes returns the attribute names in first-seen order.
func (c *Catalog) Axes() []string {
	out := make([]string, len(c.axes))
	copy(out, c.axes)
	return out
}

// Values lists the distinct values of one axis in first-seen order.
func (c *Catalog) Values(axis string) []string {
	idx, ok := c.axisIdx[axis]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.entries {
		v := e.values[idx]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Complete reports whether sel chooses a value for every axis and nothing
// else.
func (c *Catalog) Complete(sel Selection) bool {
	if c.kind == KindNoVariants {
		return len(sel) == 0
	}
	if len(sel) != len(c.axes) {
		return false
	}
	for name := range sel {
		if _, ok := c.axisIdx[name]; !ok {
			return false
		}
	}
	return true
}

// Lookup returns the variant matching a complete selection.
func (c *Catalog) Lookup(sel Selection) (models.Variant, bool) {
	if c.kind == KindNoVariants || !c.Complete(sel) {
		return models.Variant{}, false
	}
	values := make([]string, len(c.axes))
	for name, value := range sel {
		values[c.axisIdx[name]] = value
	}
	i, ok := c.byKey[tupleKey(values)]
	if !ok {
		return models.Variant{}, false
	}
	return c.entries[i].variant, true
}

// Resolve returns the units available for sel. Incomplete selections and
// combinations that do not exist resolve to 0.
func (c *Catalog) Resolve(sel Selection) int {
	if c.kind == KindNoVariants {
		return c.product.Stock
	}
	v, ok := c.Lookup(sel)
	if !ok {
		return 0
	}
	return v.Stock
}

// UnitPrice is the variant's price override when set, the product price
// otherwise.
func (c *Catalog) UnitPrice(sel Selection) decimal.Decimal {
	if v, ok := c.Lookup(sel); ok && v.PriceOverride.Valid {
		return v.PriceOverride.Decimal
	}
	return c.product.Price
}

// Normalize fills the axes a variant leaves out with "" so the snapshot
// stored on an order item names every axis.
func (c *Catalog) Normalize(v models.Variant) Selection {
	sel := make(Selection, len(c.axes))
	for _, name := range c.axes {
		sel[name] = v.Attributes[name]
	}
	return sel
}

// Key identifies a stock-bearing unit: the variant id, or 0 for the product
// itself.
func (c *Catalog) Key(sel Selection) (int64, bool) {
	if c.kind == KindNoVariants {
		return 0, len(sel) == 0
	}
	v, ok := c.Lookup(sel)
	return v.ID, ok
}

// SelectionFromLegacy builds a selection from the variant_size and
// variant_color wire fields.
func SelectionFromLegacy(size, color string) Selection {
	sel := Selection{}
	if size != "" {
		sel[AxisSize] = size
	}
	if color != "" {
		sel[AxisColor] = color
	}
	return sel
}

// LegacySelection is SelectionFromLegacy for this product: a legacy axis the
// product uses but the request left blank is selected as "".
func (c *Catalog) LegacySelection(size, color string) Selection {
	sel := SelectionFromLegacy(size, color)
	for _, name := range []string{AxisSize, AxisColor} {
		if _, ok := c.axisIdx[name]; ok {
			if _, set := sel[name]; !set {
				sel[name] = ""
			}
		}
	}
	return sel
}

// LegacyFields is the inverse of SelectionFromLegacy.
func LegacyFields(attrs map[string]string) (size, color string) {
	return attrs[AxisSize], attrs[AxisColor]
}

// CanonicalKey is a stable text form of an attribute map, used as the
// uniqueness key in storage.
func CanonicalKey(attrs map[string]string) string {
	parts := make([]string, 0, 2*len(attrs))
	for _, k := range sortedKeys(attrs) {
		if attrs[k] == "" {
			continue
		}
		parts = append(parts, k, attrs[k])
	}
	return joinKey(parts)
}

func tupleKey(values []string) string {
	return joinKey(values)
}

// joinKey length-prefixes every part, so values may contain any byte.
func joinKey(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

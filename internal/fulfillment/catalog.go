package fulfillment

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/acmefront/internal/ca"
)

// Product is a sellable certificate type.
type Product struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	Vendor        string        `yaml:"vendor"`
	VendorProduct string        `yaml:"vendor_product"`
	Prices        map[int]int64 `yaml:"prices"`
	RefundDays    int           `yaml:"refund_days"`
	ReissueFee    int64         `yaml:"reissue_fee"`
	DCVMethod     string        `yaml:"dcv_method"`
	MaxDomains    int           `yaml:"max_domains"`
	Wildcard      bool          `yaml:"wildcard"`
}

// Price returns the amount for period months.
func (p Product) Price(period int) (int64, error) {
	amount, ok := p.Prices[period]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%d", ErrUnknownPeriod, p.ID, period)
	}
	return amount, nil
}

// DefaultPeriod is the shortest offered period.
func (p Product) DefaultPeriod() int {
	periods := make([]int, 0, len(p.Prices))
	for period := range p.Prices {
		periods = append(periods, period)
	}
	sort.Ints(periods)
	if len(periods) == 0 {
		return 0
	}
	return periods[0]
}

// Catalog indexes products by id.
type Catalog struct {
	products map[string]Product
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// NewCatalog builds a catalog from products.
func NewCatalog(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		if p.DCVMethod == "" {
			p.DCVMethod = ca.MethodDNSTXT
		}
		c.products[p.ID] = p
	}
	return c
}

// LoadCatalog reads a yaml catalog:
//
//	products:
//	  - id: dv-single
//	    vendor: upstream
//	    prices: {12: 990}
//	    refund_days: 30
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses yaml catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range f.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("parse catalog: product %d has no id", i)
		}
		if len(p.Prices) == 0 {
			return nil, fmt.Errorf("parse catalog: product %s has no prices", p.ID)
		}
		switch p.DCVMethod {
		case "", ca.MethodDNSTXT, ca.MethodHTTPFile:
		default:
			return nil, fmt.Errorf("parse catalog: product %s: %w %q", p.ID, ErrInvalidDCVMethod, p.DCVMethod)
		}
	}
	return NewCatalog(f.Products...), nil
}

// DefaultCatalog has one multi-domain product served by vendor.
func DefaultCatalog(vendor string) *Catalog {
	return NewCatalog(Product{
		ID:         "default",
		Name:       "Domain validated",
		Vendor:     vendor,
		Prices:     map[int]int64{12: 0},
		RefundDays: 30,
		DCVMethod:  ca.MethodDNSTXT,
		MaxDomains: 100,
		Wildcard:   true,
	})
}

// Get returns the product with id.
func (c *Catalog) Get(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return p, nil
}

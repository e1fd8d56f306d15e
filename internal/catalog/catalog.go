// Package catalog is the advisor's static product list and the search tool
// the agent calls against it.
package catalog

import (
	"context"
	"strings"

	"github.com/vango-go/vai-realtime/pkg/realtime/tools"
)

// ToolName is the name the agent uses to call Search.
const ToolName = "search_products"

type Product struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Category    string   `json:"category" yaml:"category"`
	Price       string   `json:"price,omitempty" yaml:"price"`
	Benefits    []string `json:"benefits" yaml:"benefits"`
	URL         string   `json:"url,omitempty" yaml:"url"`
}

// Default is the built-in catalog.
var Default = []Product{
	{
		Name:        "Vitality Pack",
		Description: "Complete nutritional supplement system",
		Category:    "Supplements",
		Benefits:    []string{"Complete nutrition", "Immune support", "Energy boost"},
		URL:         "https://melaleuca.com/products/vitality-pack",
	},
	{
		Name:        "Sol-U-Mel",
		Description: "Natural disinfectant and cleaner",
		Category:    "Cleaning",
		Benefits:    []string{"Chemical-free cleaning", "Safe for families", "Multiple uses"},
		URL:         "https://melaleuca.com/products/sol-u-mel",
	},
	{
		Name:        "Renew Lotion",
		Description: "Intensive skin therapy lotion",
		Category:    "Personal Care",
		Benefits:    []string{"Deep moisturization", "Skin repair", "Natural ingredients"},
		URL:         "https://melaleuca.com/products/renew-lotion",
	},
}

type Catalog struct {
	products []Product
}

// New copies products. An empty list falls back to Default.
func New(products []Product) *Catalog {
	if len(products) == 0 {
		products = Default
	}
	out := make([]Product, len(products))
	copy(out, products)
	return &Catalog{products: out}
}

// Result is the tool payload returned to the agent.
type Result struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

// Search matches query case-insensitively against name, description and
// benefits. A non-empty category must be a substring of the product's
// category. An empty query matches everything.
func (c *Catalog) Search(query, category string) Result {
	q := strings.ToLower(strings.TrimSpace(query))
	cat := strings.ToLower(strings.TrimSpace(category))

	matches := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if cat != "" && !strings.Contains(strings.ToLower(p.Category), cat) {
			continue
		}
		if q != "" && !p.matches(q) {
			continue
		}
		matches = append(matches, p)
	}
	return Result{Products: matches, Total: len(matches)}
}

func (p Product) matches(q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q) {
		return true
	}
	for _, b := range p.Benefits {
		if strings.Contains(strings.ToLower(b), q) {
			return true
		}
	}
	return false
}

type searchArgs struct {
	Query    string `json:"query" desc:"Search query for products"`
	Category string `json:"category,omitempty" desc:"Product category filter"`
}

// Tool exposes Search to the agent.
func (c *Catalog) Tool() (tools.Definition, tools.Handler) {
	return tools.Func(ToolName, "Search and recommend products based on user needs",
		func(ctx context.Context, in searchArgs) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return c.Search(in.Query, in.Category), nil
		})
}

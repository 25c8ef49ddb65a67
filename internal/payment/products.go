// Package payment maps credit products to the LemonSqueezy checkout and
// interprets its order callbacks.
package payment

// Product is one purchasable credit pack.
type Product struct {
	Name  string // Product name as reported in provider callbacks.
	Units int64  // Credits granted on purchase.
	URL   string // Hosted checkout URL.
}

// products is the fixed catalog of credit packs.
var products = []Product{
	{
		Name:  "100 credits",
		Units: 100,
		URL:   "https://pix-fusion.lemonsqueezy.com/buy/56882feb-98ba-4986-b574-b590b84c5d0a",
	},
	{
		Name:  "500 credits",
		Units: 500,
		URL:   "https://pix-fusion.lemonsqueezy.com/buy/2f0b1c3e-4d5a-4b6c-8f7e-9a1b2c3d4e5f",
	},
	{
		Name:  "1000 credits",
		Units: 1000,
		URL:   "https://pix-fusion.lemonsqueezy.com/buy/3a4b5c6d-7e8f-9a1b-2c3d-4e5f6a7b8c9d",
	},
}

// ByUnits returns the product granting exactly units credits.
func ByUnits(units int64) (Product, bool) {
	for _, p := range products {
		if p.Units == units {
			return p, true
		}
	}
	return Product{}, false
}

// ByName returns the product with the given provider-facing name.
func ByName(name string) (Product, bool) {
	for _, p := range products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}

package entities

// NotFound is the sentinel stored in product fields that could not be read
const NotFound = "not found"

// ExtractedProduct is what the locate step reports about the chosen listing entry
type ExtractedProduct struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// NewExtractedProduct replaces empty fields with the NotFound sentinel
func NewExtractedProduct(name, price, description string) ExtractedProduct {
	return ExtractedProduct{
		Name:        orNotFound(name),
		Price:       orNotFound(price),
		Description: orNotFound(description),
	}
}

// Found reports whether at least the product name was read
func (p ExtractedProduct) Found() bool {
	return p.Name != "" && p.Name != NotFound
}

func orNotFound(s string) string {
	if s == "" {
		return NotFound
	}
	return s
}

package workflow

import (
	"fmt"
	"strings"

	"shop_automation/domain/entities"

	"github.com/PuerkitoBio/goquery"
)

// ListingTitles returns the trimmed text of every element matching selector, in document order
func ListingTitles(html, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}
	var titles []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		titles = append(titles, normalizeSpace(s.Text()))
	})
	return titles, nil
}

// MatchProduct returns the index of the first title containing term, case-insensitively.
// Listing order decides ties.
func MatchProduct(titles []string, term string) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return -1, false
	}
	for i, title := range titles {
		if strings.Contains(strings.ToLower(title), needle) {
			return i, true
		}
	}
	return -1, false
}

// ExtractProduct reads name, price and description from a product page.
// Missing fields carry the entities.NotFound sentinel.
func ExtractProduct(html string, site entities.SiteProfile) (entities.ExtractedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return entities.ExtractedProduct{}, fmt.Errorf("failed to parse product page: %w", err)
	}
	text := func(selector string) string {
		if selector == "" {
			return ""
		}
		return normalizeSpace(doc.Find(selector).First().Text())
	}
	return entities.NewExtractedProduct(
		text(site.ProductName),
		text(site.ProductPrice),
		text(site.ProductDescription),
	), nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

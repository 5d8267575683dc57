// Package parsing turns recognized receipt text into candidate inventory line
// items.
//
// Every line is judged on its own. A line becomes an item only when it carries
// a currency-like price token, is not receipt boilerplate, and leaves a name
// with at least one letter once the price and quantity tokens are removed.
package parsing

import (
	"errors"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNoItemsFound is returned when no line of the text yields an item
var ErrNoItemsFound = errors.New("no items found")

// MaxQuantity bounds the quantity token; larger integers are not quantities
const MaxQuantity = 999

// DefaultKeywords are the boilerplate tokens that mark a line as receipt
// metadata rather than a purchased item
var DefaultKeywords = []string{
	"total",
	"subtotal",
	"tax",
	"vat",
	"change",
	"cash",
	"card",
	"balance",
}

// LineItem is a candidate inventory item read from one receipt line
type LineItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

// Subtotal returns quantity times unit price
func (i LineItem) Subtotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// Total sums the subtotals of items in minor units
func Total(items []LineItem) Money {
	var total Money
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

var (
	// symbolPrice matches a price with a currency symbol; the decimal part is optional
	symbolPrice = regexp.MustCompile(`^(?:[£$€¥₹](?:\d{1,3}(?:[.,]\d{3})+|\d+)(?:[.,]\d{1,2})?|(?:\d{1,3}(?:[.,]\d{3})+|\d+)(?:[.,]\d{1,2})?[£$€])$`)
	// plainPrice matches a bare number, which needs 1-2 fractional digits to count as a price
	plainPrice = regexp.MustCompile(`^(?:\d{1,3}(?:[.,]\d{3})+|\d+)[.,]\d{1,2}$`)

	quantityBare   = regexp.MustCompile(`^\d{1,3}$`)
	quantitySuffix = regexp.MustCompile(`^(\d{1,3})[xX×*@]$`)
	quantityPrefix = regexp.MustCompile(`^[xX×](\d{1,3})$`)
)

var multipliers = map[string]bool{"x": true, "X": true, "×": true, "*": true, "@": true}

// Option configures a Parser
type Option func(*Parser)

// WithKeywords replaces the boilerplate keyword list
func WithKeywords(keywords ...string) Option {
	return func(p *Parser) {
		p.keywords = normalizeKeywords(keywords)
	}
}

// WithExtraKeywords adds to the boilerplate keyword list
func WithExtraKeywords(keywords ...string) Option {
	return func(p *Parser) {
		p.keywords = append(p.keywords, normalizeKeywords(keywords)...)
	}
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Parser extracts line items from recognized text. It holds no per-text
// state and is safe for concurrent use.
type Parser struct {
	keywords []string
}

// New creates a Parser using DefaultKeywords unless overridden
func New(opts ...Option) *Parser {
	p := &Parser{keywords: normalizeKeywords(DefaultKeywords)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Keywords returns a copy of the boilerplate keyword list
func (p *Parser) Keywords() []string {
	return append([]string(nil), p.keywords...)
}

// Items returns a lazy sequence of the items found in text, in line order.
// The sequence may be ranged over any number of times.
func (p *Parser) Items(text string) iter.Seq[LineItem] {
	return func(yield func(LineItem) bool) {
		for line := range strings.Lines(text) {
			item, ok := p.ParseLine(line)
			if !ok {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Parse collects every item in text. It returns ErrNoItemsFound rather than
// an empty slice when nothing survives.
func (p *Parser) Parse(text string) ([]LineItem, error) {
	var items []LineItem
	for item := range p.Items(text) {
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoItemsFound
	}
	return items, nil
}

// ParseLine evaluates a single line. The boolean is false when the line is
// not an item.
func (p *Parser) ParseLine(line string) (LineItem, bool) {
	line = strings.TrimSpace(line)
	if line == "" || p.isBoilerplate(line) {
		return LineItem{}, false
	}

	fields := strings.Fields(line)

	// Right-most price token wins
	priceIdx := -1
	for i := len(fields) - 1; i >= 0; i-- {
		if isPriceToken(fields[i]) {
			priceIdx = i
			break
		}
	}
	if priceIdx < 0 {
		return LineItem{}, false
	}
	price, err := ParseMoney(fields[priceIdx])
	if err != nil || price < 0 {
		return LineItem{}, false
	}

	// A currency symbol printed apart from the amount belongs to the price
	start, end := priceIdx, priceIdx+1
	if start > 0 && isLoneSymbol(fields[start-1]) {
		start--
	}
	if end < len(fields) && isLoneSymbol(fields[end]) {
		end++
	}
	rest := make([]string, 0, len(fields)-(end-start))
	rest = append(rest, fields[:start]...)
	rest = append(rest, fields[end:]...)

	quantity, rest := extractQuantity(rest)

	name := cleanName(rest)
	if !hasLetter(name) {
		return LineItem{}, false
	}

	return LineItem{
		Name:      name,
		Quantity:  quantity,
		UnitPrice: price,
	}, true
}

func (p *Parser) isBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, k := range p.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func isPriceToken(field string) bool {
	return plainPrice.MatchString(field) || symbolPrice.MatchString(field)
}

// extractQuantity finds a quantity token among the non-price fields and
// returns it with the remaining fields. Explicit multiplier forms ("2 x",
// "2x", "x2", "2 @") are looked for anywhere; a bare integer only counts when
// it leads the line and more text follows.
func extractQuantity(fields []string) (int, []string) {
	for i, f := range fields {
		if m := quantitySuffix.FindStringSubmatch(f); m != nil {
			if q, ok := quantityValue(m[1]); ok {
				return q, without(fields, i, 1)
			}
		}
		if m := quantityPrefix.FindStringSubmatch(f); m != nil {
			if q, ok := quantityValue(m[1]); ok {
				return q, without(fields, i, 1)
			}
		}
		if quantityBare.MatchString(f) && i+1 < len(fields) && multipliers[fields[i+1]] {
			if q, ok := quantityValue(f); ok {
				return q, without(fields, i, 2)
			}
		}
	}

	if len(fields) > 1 && quantityBare.MatchString(fields[0]) {
		if q, ok := quantityValue(fields[0]); ok {
			return q, without(fields, 0, 1)
		}
	}

	return 1, fields
}

func quantityValue(s string) (int, bool) {
	q, err := strconv.Atoi(s)
	if err != nil || q < 0 || q > MaxQuantity {
		return 0, false
	}
	return q, true
}

func without(fields []string, i, n int) []string {
	out := make([]string, 0, len(fields)-n)
	out = append(out, fields[:i]...)
	return append(out, fields[i+n:]...)
}

// cleanName drops stray multiplier tokens left at the end of the name, then
// trims separator characters
func cleanName(fields []string) string {
	for len(fields) > 0 && multipliers[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	name := strings.Join(fields, " ")
	return strings.Trim(name, " -:@*|")
}

func isLoneSymbol(field string) bool {
	r, size := utf8.DecodeRuneInString(field)
	return size == len(field) && isCurrencySymbol(r)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Package niche classifies channels into topical niches by keyword.
package niche

import "strings"

// Default is returned when no category matches.
const Default = "default"

// Category is one row of the classification table.
type Category struct {
	Name     string
	Keywords []string
}

// Table is the ordered classification table. Earlier rows win ties, so the
// order is part of the contract.
var Table = []Category{
	{Name: "crypto", Keywords: []string{"крипт", "bitcoin", "btc", "eth", "invest", "трейд", "binance", "биржа"}},
	{Name: "finance", Keywords: []string{"финанс", "деньги", "заработ", "доход", "акци"}},
	{Name: "marketing", Keywords: []string{"маркетинг", "smm", "реклам", "таргет", "арбитраж"}},
}

// Classifier matches text against an ordered table.
type Classifier struct {
	table []Category
}

// New builds a Classifier over table. A nil table uses Table.
func New(table []Category) *Classifier {
	if table == nil {
		table = Table
	}
	return &Classifier{table: table}
}

// Classify returns the first category with a keyword contained in text.
func (c *Classifier) Classify(text string) string {
	folded := strings.ToLower(text)
	for _, cat := range c.table {
		for _, kw := range cat.Keywords {
			if strings.Contains(folded, kw) {
				return cat.Name
			}
		}
	}
	return Default
}

// Names lists every category in table order, followed by Default.
func (c *Classifier) Names() []string {
	names := make([]string, 0, len(c.table)+1)
	for _, cat := range c.table {
		names = append(names, cat.Name)
	}
	return append(names, Default)
}

// Text assembles classifier input from channel fields.
func Text(description, title, handle string) string {
	return strings.Join([]string{description, title, handle}, " ")
}

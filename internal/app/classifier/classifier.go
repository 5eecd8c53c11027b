// Package classifier maps free-text job descriptions to a service category using
// an ordered keyword table. The first matching row wins.
package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Uncategorized is returned when no row matches.
const Uncategorized = "uncategorized"

// Rule maps a set of keywords to a category.
type Rule struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Table is an ordered list of rules. Earlier rows win on overlap.
type Table []Rule

// DefaultTable returns the built-in table.
func DefaultTable() Table {
	return Table{
		{Category: "plumbing", Keywords: []string{"plumb", "pipe", "water", "leak", "tap", "drain"}},
		{Category: "electrical", Keywords: []string{"electr", "wire", "switch", "socket", "fuse"}},
		{Category: "cleaning", Keywords: []string{"clean", "dust", "mop", "wash"}},
		{Category: "carpentry", Keywords: []string{"carpent", "wood", "furniture", "door"}},
		{Category: "painting", Keywords: []string{"paint", "wall", "colour", "color"}},
		{Category: "cooling", Keywords: []string{"ac", "air condition", "cooling", "fridge", "refrigerat"}},
	}
}

// LoadTable reads a JSON array of rules from path.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category table: %w", err)
	}

	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse category table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t Table) validate() error {
	if len(t) == 0 {
		return fmt.Errorf("category table is empty")
	}
	for i, r := range t {
		if strings.TrimSpace(r.Category) == "" {
			return fmt.Errorf("category table row %d: empty category", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("category table row %d (%s): no keywords", i, r.Category)
		}
	}
	return nil
}

// Classifier is safe for concurrent use; the table is never mutated.
type Classifier struct {
	table Table
}

// New builds a classifier over a copy of table with keywords lower-cased.
func New(table Table) *Classifier {
	t := make(Table, len(table))
	for i, r := range table {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		t[i] = Rule{Category: r.Category, Keywords: kws}
	}
	return &Classifier{table: t}
}

// Classify returns the category for description, or Uncategorized.
// Keywords of two letters or fewer must match a whole word; longer ones match
// anywhere.
func (c *Classifier) Classify(description string) string {
	text := strings.ToLower(description)
	if strings.TrimSpace(text) == "" {
		return Uncategorized
	}

	var words map[string]struct{}
	for _, r := range c.table {
		for _, k := range r.Keywords {
			if len(k) > 2 {
				if strings.Contains(text, k) {
					return r.Category
				}
				continue
			}
			if words == nil {
				words = wordSet(text)
			}
			if _, ok := words[k]; ok {
				return r.Category
			}
		}
	}

	return Uncategorized
}

func wordSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

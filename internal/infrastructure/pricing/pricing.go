package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

// Price is USD per one million tokens.
type Price struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table estimates request cost by model name. Unknown models have no cost.
type Table struct {
	prices   map[string]Price
	prefixes []string
}

var defaultPrices = map[string]Price{
	"gpt-4o":           {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":      {Input: 0.15, Output: 0.60},
	"gpt-4.1":          {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":     {Input: 0.40, Output: 1.60},
	"claude-sonnet-4":  {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku": {Input: 0.80, Output: 4.00},
	"claude-opus-4":    {Input: 15.00, Output: 75.00},
	"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
	"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
	"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
}

func NewTable(prices map[string]Price) *Table {
	t := &Table{prices: make(map[string]Price, len(prices))}
	for model, price := range prices {
		t.prices[strings.ToLower(strings.TrimSpace(model))] = price
	}
	for model := range t.prices {
		t.prefixes = append(t.prefixes, model)
	}
	// Longest prefix first.
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
	return t
}

func Default() *Table {
	return NewTable(defaultPrices)
}

// Load reads a YAML map of model name to price and layers it over the
// defaults. An empty path returns the defaults.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var overrides map[string]Price
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	merged := make(map[string]Price, len(defaultPrices)+len(overrides))
	for model, price := range defaultPrices {
		merged[model] = price
	}
	for model, price := range overrides {
		merged[model] = price
	}
	return NewTable(merged), nil
}

func (t *Table) Estimate(model string, usage domain.TokenUsage) *float64 {
	price, ok := t.lookup(model)
	if !ok {
		return nil
	}
	cost := (float64(usage.InputTokens)*price.Input + float64(usage.OutputTokens)*price.Output) / 1_000_000
	return &cost
}

func (t *Table) lookup(model string) (Price, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	if key == "" {
		return Price{}, false
	}
	if price, ok := t.prices[key]; ok {
		return price, true
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(key, prefix) {
			return t.prices[prefix], true
		}
	}
	return Price{}, false
}

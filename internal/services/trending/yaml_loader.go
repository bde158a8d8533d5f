package trending

import (
	"fmt"
	"os"

	"pricepulse/internal/models"

	"gopkg.in/yaml.v3"
)

type fallbackFile struct {
	Pairs []fallbackPair `yaml:"pairs"`
}

type fallbackPair struct {
	PairAddress string `yaml:"pair_address"`
	BaseSymbol  string `yaml:"base_symbol"`
	BaseName    string `yaml:"base_name"`
}

// LoadFallbackPairs reads the curated trending fallback list. Entries with a
// malformed pair address are skipped.
func LoadFallbackPairs(path string) ([]models.TrendingPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}

	var file fallbackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fallback file: %w", err)
	}

	pairs := make([]models.TrendingPair, 0, len(file.Pairs))
	for _, p := range file.Pairs {
		if !models.ValidIdentifier(p.PairAddress) {
			continue
		}
		pairs = append(pairs, models.TrendingPair{
			PairAddress: models.NormalizeIdentifier(p.PairAddress),
			BaseSymbol:  p.BaseSymbol,
			BaseName:    p.BaseName,
		})
	}
	return pairs, nil
}

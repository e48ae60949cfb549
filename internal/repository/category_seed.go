package repository

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/request-engine/internal/domain"
)

type categorySeed struct {
	Categories []struct {
		ID       int64  `yaml:"id"`
		Name     string `yaml:"name"`
		Price    int64  `yaml:"price"`
		Variable bool   `yaml:"variable"`
	} `yaml:"categories"`
}

// ParseCategorySeed decodes a YAML document of the form
//
//	categories:
//	  - {id: 1, name: Inspection, price: 12000}
//	  - {id: 2, name: Consulting, variable: true}
func ParseCategorySeed(data []byte) ([]domain.Category, error) {
	var seed categorySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse category seed: %w", err)
	}
	out := make([]domain.Category, 0, len(seed.Categories))
	for i, c := range seed.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category seed entry %d: name required", i)
		}
		if c.Price < 0 {
			return nil, fmt.Errorf("category seed entry %d: price must not be negative", i)
		}
		out = append(out, domain.Category{ID: c.ID, Name: c.Name, Price: c.Price, Variable: c.Variable})
	}
	return out, nil
}

// SeedCategories upserts every category listed in the YAML file at path.
func SeedCategories(ctx context.Context, repo CategoryRepository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	categories, err := ParseCategorySeed(data)
	if err != nil {
		return 0, err
	}
	for i := range categories {
		if err := repo.Upsert(ctx, &categories[i]); err != nil {
			return i, fmt.Errorf("seed category %q: %w", categories[i].Name, err)
		}
	}
	return len(categories), nil
}

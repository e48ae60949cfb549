package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
)

func TestSeedCategories(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "categories.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
categories:
  - {id: 4, name: Inspection, price: 12000}
  - {name: Consulting, variable: true}
`), 0o600))

	store := NewMemoryStore()
	n, err := SeedCategories(context.Background(), store.Categories(), file)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inspection, err := store.Categories().Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, domain.Category{ID: 4, Name: "Inspection", Price: 12000}, *inspection)

	consulting, err := store.Categories().Get(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, consulting.Variable)
}

func TestParseCategorySeedRejects(t *testing.T) {
	_, err := ParseCategorySeed([]byte("categories:\n  - {price: 10}\n"))
	assert.ErrorContains(t, err, "name required")

	_, err = ParseCategorySeed([]byte("categories:\n  - {name: X, price: -1}\n"))
	assert.ErrorContains(t, err, "negative")

	_, err = ParseCategorySeed([]byte("categories: ["))
	assert.Error(t, err)
}

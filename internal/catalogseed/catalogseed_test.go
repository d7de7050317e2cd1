package catalogseed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/campusmart/internal/model"
)

const sample = `
categories:
  - name: Snacks
    description: Crisps and biscuits
  - name: Drinks
products:
  - name: Pringles Original
    category: Snacks
    price: 15000
    stock: 40
  - name: Rwenzori Water 500ml
    category: Drinks
    price: 1500
    stock: 100
    available: false
`

type memStore struct {
	categories map[string]model.Category
	products   map[string]model.Product
}

func (s *memStore) UpsertCategory(_ context.Context, c model.Category) (*model.Category, error) {
	if existing, ok := s.categories[c.Name]; ok {
		c.ID = existing.ID
	} else {
		c.ID = "cat-" + c.Name
	}
	s.categories[c.Name] = c
	return &c, nil
}

func (s *memStore) UpsertProductByName(_ context.Context, p model.Product) (*model.Product, error) {
	s.products[p.Name] = p
	return &p, nil
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAndApply(t *testing.T) {
	c, err := Load(writeCatalog(t, sample))
	require.NoError(t, err)
	require.Len(t, c.Categories, 2)
	require.Len(t, c.Products, 2)

	store := &memStore{categories: map[string]model.Category{}, products: map[string]model.Product{}}
	n, err := Apply(context.Background(), store, c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pringles := store.products["Pringles Original"]
	require.NotNil(t, pringles.CategoryID)
	assert.Equal(t, "cat-Snacks", *pringles.CategoryID)
	assert.Equal(t, int64(15000), pringles.Price)
	assert.True(t, pringles.IsAvailable)
	assert.False(t, store.products["Rwenzori Water 500ml"].IsAvailable)

	n, err = Apply(context.Background(), store, c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.categories, 2)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeCatalog(t, "products:\n  - name: Bad\n    price: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeCatalog(t, "products:\n  - name: Orphan\n    price: 10\n    category: Missing\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

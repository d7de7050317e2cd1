// Package catalogseed загружает начальный каталог из YAML-файла.
package catalogseed

import (
	"context"
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"

	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/validation"
)

// Catalog описывает содержимое файла каталога.
type Catalog struct {
	Categories []Category `yaml:"categories"`
	Products   []Product  `yaml:"products"`
}

// Category описывает категорию в файле каталога.
type Category struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ImageURL    string `yaml:"image_url"`
}

// Product описывает товар в файле каталога. Category ссылается на имя категории.
type Product struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Price       int64  `yaml:"price"`
	Stock       int    `yaml:"stock"`
	Available   *bool  `yaml:"available"`
	ImageURL    string `yaml:"image_url"`
}

// Store перечисляет операции хранилища, нужные для загрузки каталога.
type Store interface {
	UpsertCategory(ctx context.Context, c model.Category) (*model.Category, error)
	UpsertProductByName(ctx context.Context, p model.Product) (*model.Product, error)
}

// Load читает и проверяет файл каталога.
func Load(filename string) (*Catalog, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	names := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("category without name")
		}
		names[cat.Name] = struct{}{}
	}

	for _, p := range c.Products {
		if err := validation.ValidateProduct(p.input()); err != nil {
			return nil, fmt.Errorf("product %q: %w", p.Name, err)
		}
		if p.Category != "" {
			if _, ok := names[p.Category]; !ok {
				return nil, fmt.Errorf("product %q: unknown category %q", p.Name, p.Category)
			}
		}
	}

	return &c, nil
}

func (p Product) input() validation.ProductInput {
	return validation.ProductInput{
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.Stock,
		ImageURL:      p.ImageURL,
		IsAvailable:   p.Available,
	}
}

// Apply записывает каталог в хранилище. Повторный запуск обновляет существующие записи по имени.
func Apply(ctx context.Context, store Store, c *Catalog) (int, error) {
	categoryIDs := make(map[string]string, len(c.Categories))
	for _, cat := range c.Categories {
		saved, err := store.UpsertCategory(ctx, model.Category{
			Name:        cat.Name,
			Description: cat.Description,
			ImageURL:    cat.ImageURL,
		})
		if err != nil {
			return 0, fmt.Errorf("upsert category %q: %w", cat.Name, err)
		}
		categoryIDs[cat.Name] = saved.ID
	}

	for _, p := range c.Products {
		product := model.Product{
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price,
			StockQuantity: p.Stock,
			ImageURL:      p.ImageURL,
			IsAvailable:   true,
		}
		if p.Available != nil {
			product.IsAvailable = *p.Available
		}
		if id, ok := categoryIDs[p.Category]; ok {
			product.CategoryID = &id
		}

		if _, err := store.UpsertProductByName(ctx, product); err != nil {
			return 0, fmt.Errorf("upsert product %q: %w", p.Name, err)
		}
	}

	return len(c.Products), nil
}

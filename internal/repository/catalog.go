package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
)

const productColumns = `id, name, description, category_id, price, image_url, stock_quantity, is_available, created_at, updated_at`

// ProductFilter задаёт выборку товаров.
type ProductFilter struct {
	CategoryID    string
	OnlyAvailable bool
	Limit         int
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CategoryID, &p.Price, &p.ImageURL,
		&p.StockQuantity, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCategories возвращает категории по алфавиту.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, image_url, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var res []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ImageURL, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateCategory создаёт категорию.
func (r *PostgresRepository) CreateCategory(ctx context.Context, c model.Category) (*model.Category, error) {
	if c.ID == "" {
		c.ID = ids.NewID()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (id, name, description, image_url) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		c.ID, c.Name, c.Description, c.ImageURL,
	).Scan(&c.CreatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", ErrCategoryExists, c.Name)
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return &c, nil
}

// UpsertCategory создаёт категорию или обновляет описание существующей с тем же названием.
func (r *PostgresRepository) UpsertCategory(ctx context.Context, c model.Category) (*model.Category, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (id, name, description, image_url) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, image_url = EXCLUDED.image_url
		 RETURNING id, created_at`,
		ids.NewID(), c.Name, c.Description, c.ImageURL,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert category: %w", err)
	}
	return &c, nil
}

// ListProducts возвращает товары, новые первыми.
func (r *PostgresRepository) ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.OnlyAvailable {
		where = append(where, "is_available")
	}

	q := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func checkCategory(id *string) error {
	if id == nil {
		return nil
	}
	if err := checkID(*id); err != nil {
		return fmt.Errorf("%w: category", ErrNotFound)
	}
	return nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateProduct создаёт товар.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	if p.ID == "" {
		p.ID = ids.NewID()
	}
	if err := checkCategory(p.CategoryID); err != nil {
		return nil, err
	}
	saved, err := scanProduct(r.pool.QueryRow(ctx,
		`INSERT INTO products (id, name, description, category_id, price, image_url, stock_quantity, is_available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.CategoryID, p.Price, p.ImageURL, p.StockQuantity, p.IsAvailable,
	))
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", ErrProductExists, p.Name)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: category", ErrNotFound)
		}
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return saved, nil
}

// UpdateProduct обновляет все редактируемые поля товара.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	if err := checkID(p.ID); err != nil {
		return nil, err
	}
	if err := checkCategory(p.CategoryID); err != nil {
		return nil, err
	}
	saved, err := scanProduct(r.pool.QueryRow(ctx,
		`UPDATE products
		 SET name = $2, description = $3, category_id = $4, price = $5, image_url = $6,
		     stock_quantity = $7, is_available = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.CategoryID, p.Price, p.ImageURL, p.StockQuantity, p.IsAvailable,
	))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		if _, ok := isUniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", ErrProductExists, p.Name)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: category", ErrNotFound)
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	return saved, nil
}

// UpsertProductByName создаёт товар или обновляет существующий с тем же названием.
func (r *PostgresRepository) UpsertProductByName(ctx context.Context, p model.Product) (*model.Product, error) {
	saved, err := scanProduct(r.pool.QueryRow(ctx,
		`INSERT INTO products (id, name, description, category_id, price, image_url, stock_quantity, is_available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
		     description = EXCLUDED.description,
		     category_id = EXCLUDED.category_id,
		     price = EXCLUDED.price,
		     image_url = EXCLUDED.image_url,
		     stock_quantity = EXCLUDED.stock_quantity,
		     is_available = EXCLUDED.is_available,
		     updated_at = now()
		 RETURNING `+productColumns,
		ids.NewID(), p.Name, p.Description, p.CategoryID, p.Price, p.ImageURL, p.StockQuantity, p.IsAvailable,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}
	return saved, nil
}

// DeleteProduct удаляет товар. Товар, уже попавший в заказы, снимается с продажи.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			tag, err = r.pool.Exec(ctx,
				`UPDATE products SET is_available = FALSE, updated_at = now() WHERE id = $1`, id)
			if err != nil {
				return fmt.Errorf("disable product: %w", err)
			}
		} else {
			return fmt.Errorf("delete product: %w", err)
		}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProductImage сохраняет URL изображения товара.
func (r *PostgresRepository) SetProductImage(ctx context.Context, id, imageURL string) error {
	if err := checkID(id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET image_url = $2, updated_at = now() WHERE id = $1`, id, imageURL)
	if err != nil {
		return fmt.Errorf("set product image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

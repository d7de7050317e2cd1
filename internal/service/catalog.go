package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// actor загружает роль пользователя из профиля.
func (s *Service) actor(ctx context.Context, userID string) (authz.Actor, error) {
	if userID == "" {
		return authz.Actor{}, authz.ErrForbidden
	}
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return authz.Actor{}, authz.ErrForbidden
		}
		return authz.Actor{}, err
	}
	return authz.Actor{UserID: p.ID, Role: p.Role}, nil
}

// require проверяет возможность пользователя по общей политике.
func (s *Service) require(ctx context.Context, userID string, c authz.Capability) (authz.Actor, error) {
	a, err := s.actor(ctx, userID)
	if err != nil {
		return authz.Actor{}, err
	}
	if err := authz.Require(a, c); err != nil {
		return authz.Actor{}, err
	}
	return a, nil
}

// ListCategories возвращает категории каталога.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.repo.ListCategories(ctx)
}

// ListProducts возвращает товары каталога.
func (s *Service) ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, f)
}

// GetProduct возвращает товар.
func (s *Service) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateCategory создаёт категорию. Требует права управления товарами.
func (s *Service) CreateCategory(ctx context.Context, userID, name, description string) (*model.Category, error) {
	if _, err := s.require(ctx, userID, authz.ManageProducts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, validation.Field("name", "required")
	}
	return s.repo.CreateCategory(ctx, model.Category{
		Name:        strings.TrimSpace(name),
		Description: description,
	})
}

func productFromInput(in validation.ProductInput) model.Product {
	p := model.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		Price:         in.Price,
		ImageURL:      in.ImageURL,
		StockQuantity: in.StockQuantity,
		IsAvailable:   true,
	}
	if in.IsAvailable != nil {
		p.IsAvailable = *in.IsAvailable
	}
	if p.CategoryID != nil && *p.CategoryID == "" {
		p.CategoryID = nil
	}
	return p
}

// CreateProduct создаёт товар.
func (s *Service) CreateProduct(ctx context.Context, userID string, in validation.ProductInput) (*model.Product, error) {
	if _, err := s.require(ctx, userID, authz.ManageProducts); err != nil {
		return nil, err
	}
	if err := validation.ValidateProduct(in); err != nil {
		return nil, err
	}
	return s.repo.CreateProduct(ctx, productFromInput(in))
}

// UpdateProduct обновляет товар.
func (s *Service) UpdateProduct(ctx context.Context, userID, productID string, in validation.ProductInput) (*model.Product, error) {
	if _, err := s.require(ctx, userID, authz.ManageProducts); err != nil {
		return nil, err
	}
	if err := validation.ValidateProduct(in); err != nil {
		return nil, err
	}
	p := productFromInput(in)
	p.ID = productID
	return s.repo.UpdateProduct(ctx, p)
}

// DeleteProduct удаляет товар.
func (s *Service) DeleteProduct(ctx context.Context, userID, productID string) error {
	if _, err := s.require(ctx, userID, authz.ManageProducts); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, productID)
}

// UploadProductImage сохраняет изображение товара в хранилище файлов и записывает его URL.
func (s *Service) UploadProductImage(ctx context.Context, userID, productID, contentType string, r io.Reader) (string, error) {
	if _, err := s.require(ctx, userID, authz.ManageProducts); err != nil {
		return "", err
	}
	if s.opts.Blobs == nil {
		return "", ErrNotConfigured
	}

	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", validation.Field("image", "unsupported content type")
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return "", err
	}

	url, err := s.opts.Blobs.Put(ctx, path.Join("products", productID+"-"+ids.NewID()+ext), r)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}

	if err := s.repo.SetProductImage(ctx, productID, url); err != nil {
		return "", err
	}
	return url, nil
}

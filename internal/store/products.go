package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trade-ledger/internal/models"
)

const productColumns = `product_id, paper_type, size, gsm, price_per_slot, selling_price,
	available_stock, stock_status, product_image_url, last_updated`

// InsertProduct inserts a product whose ID has already been allocated
func (t *Tx) InsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO product (product_id, paper_type, size, gsm, price_per_slot, selling_price,
			available_stock, stock_status, product_image_url, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING last_updated`

	return t.tx.GetContext(ctx, &p.LastUpdated, query,
		p.ProductID, p.PaperType, p.Size, p.GSM, p.PricePerSlot, p.SellingPrice,
		p.AvailableStock, p.StockStatus, p.ImageURL)
}

// GetProductForUpdate reads a product and holds its row lock
func (t *Tx) GetProductForUpdate(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p,
		"SELECT "+productColumns+" FROM product WHERE product_id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct overwrites the editable product fields
func (t *Tx) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE product
		SET paper_type = $1, size = $2, gsm = $3, price_per_slot = $4, selling_price = $5,
			available_stock = $6, stock_status = $7, product_image_url = $8, last_updated = NOW()
		WHERE product_id = $9
		RETURNING last_updated`

	err := t.tx.GetContext(ctx, &p.LastUpdated, query,
		p.PaperType, p.Size, p.GSM, p.PricePerSlot, p.SellingPrice,
		p.AvailableStock, p.StockStatus, p.ImageURL, p.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: product %s", models.ErrNotFound, p.ProductID)
	}
	return err
}

// DecrementStock removes quantity units in one conditional update. The check
// and the write are a single statement, so concurrent buyers cannot both pass
// the check on the same units.
func (t *Tx) DecrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	query := `
		UPDATE product
		SET available_stock = available_stock - $1,
			stock_status = CASE
				WHEN available_stock - $1 <= 0 THEN 'out_of_stock'
				WHEN available_stock - $1 < $3 THEN 'low'
				ELSE 'available'
			END,
			last_updated = NOW()
		WHERE product_id = $2 AND available_stock >= $1
		RETURNING ` + productColumns

	var p models.Product
	err := t.tx.GetContext(ctx, &p, query, quantity, productID, lowThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		var available int
		err := t.tx.GetContext(ctx, &available,
			"SELECT available_stock FROM product WHERE product_id = $1", productID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: requested %d, available %d", models.ErrInsufficientStock, quantity, available)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IncrementStock returns quantity units to the product
func (t *Tx) IncrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	query := `
		UPDATE product
		SET available_stock = available_stock + $1,
			stock_status = CASE
				WHEN available_stock + $1 <= 0 THEN 'out_of_stock'
				WHEN available_stock + $1 < $3 THEN 'low'
				ELSE 'available'
			END,
			last_updated = NOW()
		WHERE product_id = $2
		RETURNING ` + productColumns

	var p models.Product
	err := t.tx.GetContext(ctx, &p, query, quantity, productID, lowThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountTradesForProduct counts trades referencing a product
func (t *Tx) CountTradesForProduct(ctx context.Context, productID string) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM trading WHERE product_id = $1", productID)
	return n, err
}

// DeleteProduct removes a product row
func (t *Tx) DeleteProduct(ctx context.Context, productID string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM product WHERE product_id = $1", productID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	return nil
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, "SELECT "+productColumns+" FROM product WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns all products, optionally only those in stock
func (s *Store) ListProducts(ctx context.Context, inStockOnly bool) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM product"
	if inStockOnly {
		query += " WHERE available_stock > 0"
	}
	query += " ORDER BY product_id"

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query)
	return products, err
}

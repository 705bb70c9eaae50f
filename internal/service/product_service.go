package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/storage"
	"trade-ledger/internal/store"
	"trade-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductService manages the product catalogue and its stock
type ProductService struct {
	repo    Repository
	cache   Cache
	objects ObjectStore
	rules   Rules
	logger  *zap.Logger
}

// NewProductService creates a new product service
func NewProductService(repo Repository, cache Cache, objects ObjectStore, rules Rules) *ProductService {
	return &ProductService{
		repo:    repo,
		cache:   cache,
		objects: objects,
		rules:   rules,
		logger:  util.GetLogger(),
	}
}

// NewProduct is a validated add-product request
type NewProduct struct {
	PaperType      string          `json:"paper_type" binding:"required"`
	Size           string          `json:"size" binding:"required"`
	GSM            int             `json:"gsm" binding:"required,min=1"`
	PricePerSlot   decimal.Decimal `json:"price_per_slot"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	AvailableStock int             `json:"available_stock" binding:"min=0"`
}

// ProductUpdate carries the fields an admin may change; nil means unchanged
type ProductUpdate struct {
	PaperType      *string          `json:"paper_type"`
	Size           *string          `json:"size"`
	GSM            *int             `json:"gsm"`
	PricePerSlot   *decimal.Decimal `json:"price_per_slot"`
	SellingPrice   *decimal.Decimal `json:"selling_price"`
	AvailableStock *int             `json:"available_stock"`
}

func (n *NewProduct) validate() error {
	if strings.TrimSpace(n.PaperType) == "" || strings.TrimSpace(n.Size) == "" {
		return validationf("paper type and size are required")
	}
	if n.GSM <= 0 {
		return validationf("gsm must be positive")
	}
	if !n.PricePerSlot.IsPositive() {
		return validationf("price per slot must be positive")
	}
	if n.SellingPrice.IsNegative() {
		return validationf("selling price cannot be negative")
	}
	if n.AvailableStock < 0 {
		return validationf("available stock cannot be negative")
	}
	return nil
}

// AddProduct allocates the next P_ id and inserts the product. The image, if
// any, is uploaded after the row commits.
func (s *ProductService) AddProduct(ctx context.Context, in NewProduct, image *File) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.AddProduct")
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.SellingPrice.IsZero() {
		in.SellingPrice = in.PricePerSlot
	}

	var product *models.Product
	var uploads []upload
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		productID, err := tx.NextID(ctx, store.ProductSeq)
		if err != nil {
			return err
		}

		product = &models.Product{
			ProductID:      productID,
			PaperType:      strings.TrimSpace(in.PaperType),
			Size:           strings.TrimSpace(in.Size),
			GSM:            in.GSM,
			PricePerSlot:   in.PricePerSlot,
			SellingPrice:   in.SellingPrice,
			AvailableStock: in.AvailableStock,
			StockStatus:    models.StockStatusFor(in.AvailableStock, s.rules.LowStockThreshold),
		}
		if image != nil {
			key := storage.ObjectKey(storage.FolderProducts, productID, image.Name)
			url := s.objects.URL(key)
			product.ImageURL = &url
			uploads = []upload{{key: key, file: image}}
		}

		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Product added", zap.String("product_id", product.ProductID))
	invalidateStats(ctx, s.cache, s.logger)

	if err := storeAfterCommit(ctx, s.objects, s.logger, uploads); err != nil {
		return product, err
	}
	return product, nil
}

// UpdateProduct applies an admin edit and recomputes stock status
func (s *ProductService) UpdateProduct(ctx context.Context, productID string, upd ProductUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateProduct")
	defer span.End()

	var product *models.Product
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		if upd.PaperType != nil {
			p.PaperType = strings.TrimSpace(*upd.PaperType)
		}
		if upd.Size != nil {
			p.Size = strings.TrimSpace(*upd.Size)
		}
		if upd.GSM != nil {
			p.GSM = *upd.GSM
		}
		if upd.PricePerSlot != nil {
			p.PricePerSlot = *upd.PricePerSlot
		}
		if upd.SellingPrice != nil {
			p.SellingPrice = *upd.SellingPrice
		}
		if upd.AvailableStock != nil {
			p.AvailableStock = *upd.AvailableStock
		}

		check := NewProduct{
			PaperType: p.PaperType, Size: p.Size, GSM: p.GSM,
			PricePerSlot: p.PricePerSlot, SellingPrice: p.SellingPrice, AvailableStock: p.AvailableStock,
		}
		if err := check.validate(); err != nil {
			return err
		}

		p.StockStatus = models.StockStatusFor(p.AvailableStock, s.rules.LowStockThreshold)
		product = p
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	invalidateStats(ctx, s.cache, s.logger)
	return product, nil
}

// Restock adds quantity units to a product
func (s *ProductService) Restock(ctx context.Context, productID string, quantity int) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Restock")
	defer span.End()

	if quantity <= 0 {
		return nil, validationf("restock quantity must be positive")
	}

	var product *models.Product
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		var err error
		product, err = tx.IncrementStock(ctx, productID, quantity, s.rules.LowStockThreshold)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Product restocked",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("available_stock", product.AvailableStock))
	invalidateStats(ctx, s.cache, s.logger)
	return product, nil
}

// DeleteProduct removes a product no trade references. The row is deleted
// first; a failure to remove its image afterwards is only logged.
func (s *ProductService) DeleteProduct(ctx context.Context, productID string) error {
	ctx, span := util.StartSpan(ctx, "ProductService.DeleteProduct")
	defer span.End()

	var imageURL *string
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		trades, err := tx.CountTradesForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if trades > 0 {
			return fmt.Errorf("%w: product %s has %d trades", models.ErrReferentialConflict, productID, trades)
		}

		imageURL = p.ImageURL
		return tx.DeleteProduct(ctx, productID)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	s.logger.Info("Product deleted", zap.String("product_id", productID))
	invalidateStats(ctx, s.cache, s.logger)

	if imageURL != nil {
		if err := s.objects.Delete(ctx, *imageURL); err != nil {
			util.StorageFailuresTotal.WithLabelValues("delete").Inc()
			s.logger.Error("Failed to delete product image",
				zap.String("product_id", productID),
				zap.String("url", *imageURL),
				zap.Error(err))
		}
	}
	return nil
}

// GetProduct retrieves a product
func (s *ProductService) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// ListProducts lists the catalogue, optionally only what is in stock
func (s *ProductService) ListProducts(ctx context.Context, inStockOnly bool) ([]models.Product, error) {
	return s.repo.ListProducts(ctx, inStockOnly)
}

// ResumeService registers uploaded resumes as unassigned tasks
type ResumeService struct {
	repo    Repository
	cache   Cache
	objects ObjectStore
	logger  *zap.Logger
}

// NewResumeService creates a new resume service
func NewResumeService(repo Repository, cache Cache, objects ObjectStore) *ResumeService {
	return &ResumeService{
		repo:    repo,
		cache:   cache,
		objects: objects,
		logger:  util.GetLogger(),
	}
}

// RegisterResumes allocates one R_ resume id and one T_ task id per file in a
// single locked batch, then uploads the files.
func (s *ResumeService) RegisterResumes(ctx context.Context, files []File) ([]models.Resume, error) {
	ctx, span := util.StartSpan(ctx, "ResumeService.RegisterResumes")
	defer span.End()

	if len(files) == 0 {
		return nil, validationf("at least one resume file is required")
	}

	start := time.Now()
	var resumes []models.Resume
	var uploads []upload
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		resumeIDs, err := tx.NextIDs(ctx, store.ResumeSeq, len(files))
		if err != nil {
			return err
		}
		taskIDs, err := tx.NextIDs(ctx, store.TaskSeq, len(files))
		if err != nil {
			return err
		}

		resumes = make([]models.Resume, len(files))
		uploads = make([]upload, len(files))
		for i := range files {
			key := storage.ObjectKey(storage.FolderResumes, resumeIDs[i], files[i].Name)
			resumes[i] = models.Resume{
				ResumeID:   resumeIDs[i],
				TaskID:     taskIDs[i],
				ResumeURL:  s.objects.URL(key),
				TaskStatus: models.TaskNotAssigned,
			}
			if err := tx.InsertResume(ctx, &resumes[i]); err != nil {
				return err
			}
			uploads[i] = upload{key: key, file: &files[i]}
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Resumes registered",
		zap.Int("count", len(resumes)),
		zap.String("first", resumes[0].ResumeID),
		zap.Duration("took", time.Since(start)))
	invalidateStats(ctx, s.cache, s.logger)

	if err := storeAfterCommit(ctx, s.objects, s.logger, uploads); err != nil {
		return resumes, err
	}
	return resumes, nil
}

// ListResumes lists uploaded resumes
func (s *ResumeService) ListResumes(ctx context.Context) ([]models.Resume, error) {
	return s.repo.ListResumes(ctx)
}

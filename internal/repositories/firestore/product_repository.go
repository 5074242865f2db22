package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Currency  string `firestore:"currency"`
	Active    bool   `firestore:"active"`
}

// ProductRepository reads price snapshots from the products collection.
type ProductRepository struct {
	base *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the catalog price lookup.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

// PricesFor fetches every ref in one batched read. Unknown refs are omitted from the result.
func (r *ProductRepository) PricesFor(ctx context.Context, refs []string) (map[string]domain.ProductPrice, error) {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		ids = append(ids, ref)
	}
	docs, err := r.base.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ProductPrice, len(docs))
	for _, doc := range docs {
		out[doc.ID] = domain.ProductPrice{
			ProductRef: doc.ID,
			Name:       doc.Data.Name,
			UnitPrice:  doc.Data.UnitPrice,
			Currency:   strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
			Active:     doc.Data.Active,
		}
	}
	return out, nil
}

package domain

import "time"

// CatalogItem is the catalog aggregate. Price is stored in cents. Embedding
// is derived from name+description and recomputed on every create/update
// while the vector subsystem is enabled; nil means no vector was computed.
type CatalogItem struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Description       string    `db:"description" json:"description"`
	Price             int64     `db:"price" json:"price"`
	PictureFileName   string    `db:"picture_file_name" json:"picture_file_name"`
	CatalogBrandID    int64     `db:"catalog_brand_id" json:"catalog_brand_id"`
	CatalogTypeID     int64     `db:"catalog_type_id" json:"catalog_type_id"`
	AvailableStock    int64     `db:"available_stock" json:"available_stock"`
	RestockThreshold  int64     `db:"restock_threshold" json:"restock_threshold"`
	MaxStockThreshold int64     `db:"max_stock_threshold" json:"max_stock_threshold"`
	Embedding         []float32 `db:"embedding" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`

	// Distance to the query vector, populated only when a ranked search is
	// asked for diagnostics. Never affects ordering.
	Distance *float64 `db:"-" json:"distance,omitempty"`
}

type CatalogBrand struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type CatalogType struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// NewItemInput is the payload for item creation.
type NewItemInput struct {
	Name              string `json:"name" validate:"required,min=1"`
	Description       string `json:"description"`
	Price             int64  `json:"price" validate:"gte=0"`
	PictureFileName   string `json:"picture_file_name"`
	CatalogBrandID    int64  `json:"catalog_brand_id" validate:"gt=0"`
	CatalogTypeID     int64  `json:"catalog_type_id" validate:"gt=0"`
	AvailableStock    int64  `json:"available_stock" validate:"gte=0"`
	RestockThreshold  int64  `json:"restock_threshold" validate:"gte=0"`
	MaxStockThreshold int64  `json:"max_stock_threshold" validate:"gte=0,gtefield=RestockThreshold"`
}

// UpdateItemInput carries the full desired state of an item; the service
// diffs the persisted price against Price inside the write transaction.
type UpdateItemInput struct {
	Name              string `json:"name" validate:"required,min=1"`
	Description       string `json:"description"`
	Price             int64  `json:"price" validate:"gte=0"`
	PictureFileName   string `json:"picture_file_name"`
	CatalogBrandID    int64  `json:"catalog_brand_id" validate:"gt=0"`
	CatalogTypeID     int64  `json:"catalog_type_id" validate:"gt=0"`
	AvailableStock    int64  `json:"available_stock" validate:"gte=0"`
	RestockThreshold  int64  `json:"restock_threshold" validate:"gte=0"`
	MaxStockThreshold int64  `json:"max_stock_threshold" validate:"gte=0,gtefield=RestockThreshold"`
}

// ItemPage is the shared pagination envelope for every listing and search
// operation. PageIndex is zero based; Count is the total match size, not the
// page size.
type ItemPage struct {
	PageIndex int64         `json:"page_index"`
	PageSize  int64         `json:"page_size"`
	Count     int64         `json:"count"`
	Items     []CatalogItem `json:"data"`
}

// ListFilter narrows ListItems by reference tables; zero means no filter.
type ListFilter struct {
	BrandID int64
	TypeID  int64
}

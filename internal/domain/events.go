package domain

// ProductPriceChangedEvent is the integration event recorded when a price
// mutation commits. OldPrice is the last committed price, read under the row
// lock of the same transaction that applied the change.
type ProductPriceChangedEvent struct {
	ItemID   int64 `json:"item_id"`
	NewPrice int64 `json:"new_price"`
	OldPrice int64 `json:"old_price"`
}

const (
	EventTypeProductPriceChanged = "ProductPriceChanged"
	AggregateTypeCatalogItem     = "CatalogItem"
)

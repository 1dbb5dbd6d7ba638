package httpapi

import (
	"bytes"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Price принимает цену строкой ("10.50") или числом (10.5) и хранит её в минимальных единицах.
type Price struct {
	Minor int64
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(bytes.TrimSpace(data)); err != nil {
		return domain.NewError(domain.KindInvalidInput, err, "price must be a decimal number")
	}
	minor, err := domain.MinorFromDecimal(d)
	if err != nil {
		return err
	}
	p.Minor = minor
	return nil
}

type establishmentRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type establishmentPatchRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

type productRequest struct {
	EstablishmentID string `json:"establishment_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Price           *Price `json:"price"`
}

type productPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Price       *Price  `json:"price"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderRequest struct {
	EstablishmentID string             `json:"establishment_id"`
	Items           []orderLineRequest `json:"items"`
}

type establishmentResponse struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Address   string            `json:"address"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Products  []productResponse `json:"products,omitempty"`
}

type productResponse struct {
	ID                string    `json:"id"`
	EstablishmentID   string    `json:"establishment_id"`
	EstablishmentName string    `json:"establishment_name,omitempty"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Price             string    `json:"price"`
	PriceMinor        int64     `json:"price_minor"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Quantity       int32  `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type orderResponse struct {
	ID                string              `json:"id"`
	CustomerID        string              `json:"customer_id"`
	EstablishmentID   string              `json:"establishment_id"`
	EstablishmentName string              `json:"establishment_name,omitempty"`
	Status            string              `json:"status"`
	Total             string              `json:"total"`
	TotalMinor        int64               `json:"total_minor"`
	Items             []orderItemResponse `json:"items"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func toEstablishmentResponse(e domain.Establishment) establishmentResponse {
	resp := establishmentResponse{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		Name:      e.Name,
		Address:   e.Address,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	for _, p := range e.Products {
		resp.Products = append(resp.Products, toProductResponse(p))
	}
	return resp
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		EstablishmentID:   p.EstablishmentID,
		EstablishmentName: p.EstablishmentName,
		Name:              p.Name,
		Description:       p.Description,
		Price:             domain.FormatMinor(p.PriceMinor),
		PriceMinor:        p.PriceMinor,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPrice:      domain.FormatMinor(item.UnitPriceMinor),
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	return orderResponse{
		ID:                o.ID,
		CustomerID:        o.CustomerID,
		EstablishmentID:   o.EstablishmentID,
		EstablishmentName: o.EstablishmentName,
		Status:            string(o.Status),
		Total:             domain.FormatMinor(o.TotalMinor),
		TotalMinor:        o.TotalMinor,
		Items:             items,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

// Package handler exposes the shop's order, cart and payment webhook
// operations over HTTP.
package handler

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/xenking/flowershop/internal/domain/auth"
	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/order"
	"github.com/xenking/flowershop/internal/domain/payment"
	"github.com/xenking/flowershop/internal/domain/product"
	"github.com/xenking/flowershop/pkg/httpmiddleware"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// ProductCatalog reads the product catalog.
type ProductCatalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

// OrderService is the order use-case surface consumed by the handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
	ProcessWebhook(ctx context.Context, n payment.Notification) error
	CancelOrder(ctx context.Context, orderID, userID int64) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status order.Status) (*order.Order, error)
	GetOrder(ctx context.Context, p auth.Principal, orderID int64) (*order.Order, error)
	ListUserOrders(ctx context.Context, userID int64, page order.Page) (*order.PageResult, error)
	ListOrders(ctx context.Context, status order.Status, page order.Page) (*order.PageResult, error)
}

// CartService is the cart use-case surface consumed by the handlers.
type CartService interface {
	Get(ctx context.Context, p auth.Principal, userID int64) (*cart.Cart, error)
	AddItem(ctx context.Context, p auth.Principal, productID int64, quantity int) (*cart.Item, error)
	UpdateItem(ctx context.Context, p auth.Principal, itemID int64, quantity int) (*cart.Item, error)
	RemoveItem(ctx context.Context, p auth.Principal, itemID int64) error
	Clear(ctx context.Context, p auth.Principal) error
}

var (
	_ OrderService = (*order.Service)(nil)
	_ CartService  = (*cart.Service)(nil)
)

// Config holds non-dependency settings for the Handler.
type Config struct {
	// WebhookNetworks lists the networks allowed to call the payment
	// webhook. Empty allows any source.
	WebhookNetworks []netip.Prefix
	// TrustForwardedFor takes the webhook source from X-Forwarded-For
	// instead of the connection address.
	TrustForwardedFor bool
	// CreateOrderLimit wraps POST /api/orders, typically a rate limit.
	CreateOrderLimit httpmiddleware.Middleware
}

// Handler serves the /api routes.
type Handler struct {
	products ProductCatalog
	prices   discount.Resolver
	orders   OrderService
	carts    CartService
	authn    *Authenticator
	cfg      Config
}

// New constructs a Handler.
func New(
	cfg Config,
	products ProductCatalog,
	prices discount.Resolver,
	orders OrderService,
	carts CartService,
	authn *Authenticator,
) *Handler {
	return &Handler{
		products: products,
		prices:   prices,
		orders:   orders,
		carts:    carts,
		authn:    authn,
		cfg:      cfg,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	createOrder := http.Handler(h.authenticated(h.createOrder))
	if h.cfg.CreateOrderLimit != nil {
		createOrder = h.cfg.CreateOrderLimit(createOrder)
	}

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.Handle("POST /api/orders", createOrder)
	mux.Handle("GET /api/orders", h.authenticated(h.listMyOrders))
	mux.Handle("GET /api/orders/{id}", h.authenticated(h.getOrder))
	mux.Handle("PATCH /api/orders/{id}/cancel", h.authenticated(h.cancelOrder))
	mux.Handle("PATCH /api/orders/{id}/status", h.admin(h.updateOrderStatus))
	mux.Handle("GET /api/admin/orders", h.admin(h.listOrders))
	mux.HandleFunc("POST /api/orders/webhook", h.webhook)

	mux.Handle("GET /api/cart", h.authenticated(h.getCart))
	mux.Handle("DELETE /api/cart", h.authenticated(h.clearCart))
	mux.Handle("POST /api/cart/items", h.authenticated(h.addCartItem))
	mux.Handle("PATCH /api/cart/items/{id}", h.authenticated(h.updateCartItem))
	mux.Handle("DELETE /api/cart/items/{id}", h.authenticated(h.removeCartItem))
}

package handler

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/flowershop/internal/payment/yookassa"
)

// YooKassaNetworks are the published source ranges of YooKassa webhooks.
var YooKassaNetworks = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11/32",
	"77.75.156.35/32",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

// ParseNetworks parses CIDR strings.
func ParseNetworks(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// webhook settles orders from gateway notifications. Unknown payments and
// already settled orders are acknowledged with 204 so the gateway stops
// retrying; processing failures return 5xx so it retries.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	src, ok := h.webhookSource(r)
	if !ok {
		zctx.From(r.Context()).Warn("Webhook from disallowed source", zap.String("source", src.String()))
		writeError(w, http.StatusForbidden, "source not allowed")
		return
	}

	d, err := readBody(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	raw, err := d.Raw()
	if err != nil {
		writeErr(w, r, badRequest("malformed notification"))
		return
	}
	n, err := yookassa.DecodeNotification(raw)
	if err != nil {
		writeErr(w, r, badRequest("malformed notification"))
		return
	}

	if err := h.orders.ProcessWebhook(r.Context(), n); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) webhookSource(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h.cfg.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			host = strings.TrimSpace(first)
		}
	}
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, len(h.cfg.WebhookNetworks) == 0
	}
	addr = addr.Unmap()

	if len(h.cfg.WebhookNetworks) == 0 {
		return addr, true
	}
	for _, p := range h.cfg.WebhookNetworks {
		if p.Contains(addr) {
			return addr, true
		}
	}
	return addr, false
}

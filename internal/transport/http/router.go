package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services bundles what the router serves. Ready may be nil.
type Services struct {
	Resources  ResourceManager
	Checkout   CheckoutStarter
	Orders     OrderReader
	Reconciler PaymentReconciler
	Deliveries DeliveryLister
	Ready      Pinger
}

type RouterConfig struct {
	CORSOrigins   []string
	WebhookSecret string
	Logger        *slog.Logger
}

// NewRouter wires every endpoint behind request ids, the request logger,
// panic recovery and CORS.
func NewRouter(svc Services, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return RequestLogger(next, cfg.Logger) })
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", HealthHandler)
	if svc.Ready != nil {
		r.Get("/ready", HandleReady(svc.Ready))
	}

	r.Route("/resources", func(r chi.Router) {
		r.Post("/", HandleCreateResource(svc.Resources))
		r.Route("/{resourceID}", func(r chi.Router) {
			r.Get("/", HandleGetResource(svc.Resources))
			r.Patch("/policy", HandleUpdatePolicy(svc.Resources))
			r.Post("/assignments", HandleAssignClaimant(svc.Resources))
			r.Post("/view", HandleRecordView(svc.Resources))
			r.Post("/checkout", HandleCheckout(svc.Checkout))
		})
	})
	r.Get("/orders/{orderID}", HandleGetOrder(svc.Orders))
	r.Post("/webhooks/payments", HandlePaymentWebhook(svc.Reconciler, cfg.WebhookSecret))
	r.Get("/admin/webhook-deliveries", HandleListDeliveries(svc.Deliveries))

	return r
}

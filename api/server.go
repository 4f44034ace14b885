/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table that
  connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request context deadline
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /health                    Liveness probe
  /api/ownership/*           Ownership tracking
  /api/costing/*             Cost lots and valuations
  /api/gold/*                Raw gold balances and transfers
  /api/consolidation/*       Ownership consolidation
  /api/alerts/*              Derived alerts
  /api/admin/jobs/*          Background job control
  /api/scenarios/*           Demo data
  /api/reset                 Store reset (dev only)

SECURITY NOTE:
  No authentication middleware. Deploy behind the gateway that owns auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/ownership", func(r chi.Router) {
			r.Get("/", h.ListOwnerships)
			r.Post("/", h.CreateOwnership)
			r.Get("/validate-sale", h.ValidateSale)
			r.Post("/sales", h.RecordSale)
			r.Get("/{id}", h.GetOwnership)
			r.Get("/{id}/movements", h.GetMovements)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/adjustments", h.AdjustOwnership)
		})

		r.Route("/costing", func(r chi.Router) {
			r.Get("/lots", h.ListLots)
			r.Post("/lots", h.RecordLot)
			r.Get("/weighted-average", h.WeightedAverage)
			r.Get("/fifo", h.FIFO)
			r.Get("/lifo", h.LIFO)
			r.Post("/issue", h.IssueCost)
		})

		r.Route("/gold", func(r chi.Router) {
			r.Post("/receipts", h.RecordReceipt)
			r.Post("/payments", h.RecordRawGoldPayment)
			r.Post("/credits", h.CreditMerchant)
			r.Post("/conversions", h.ConvertGold)
			r.Post("/waives", h.WaiveToSupplier)
			r.Get("/suppliers/{supplierID}/balances", h.SupplierBalances)
			r.Get("/merchant/{branchID}/balances", h.MerchantBalances)
			r.Get("/transfers", h.ListTransfers)
		})

		r.Route("/consolidation", func(r chi.Router) {
			r.Get("/opportunities", h.ConsolidationOpportunities)
			r.Post("/", h.Consolidate)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/scan", h.ScanAlerts)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
		r.Post("/reset", h.ResetStore)

		r.Route("/admin/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/{job}/run", h.RunJob)
		})
	})

	return r
}

// requestLogger replaces middleware.Logger so access logs go through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// Server is the JSON API over the ledger: transactions, accounts,
// budgets and the read-side aggregates. Every route except the health
// probes requires a bearer token scoping the request to one owner.
type Server struct {
	http.Server

	transactions *services.TransactionService
	accounts     *services.AccountService
	aggregator   *services.Aggregator

	auth        *authenticator
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	// Read-side caches, keyed by owner so mutations can invalidate
	// everything an owner might have cached in one pass.
	overviewCache *cache.LRUCache[*services.Overview]
	progressCache *cache.LRUCache[*services.BudgetProgress]
	cacheManager  *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr, jwtSecret string, txns *services.TransactionService, accounts *services.AccountService, agg *services.Aggregator) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		transactions:  txns,
		accounts:      accounts,
		aggregator:    agg,
		auth:          newAuthenticator(jwtSecret),
		rateLimiter:   newRateLimiter(60),
		metrics:       &securityMetrics{},
		overviewCache: cache.NewLRUCache[*services.Overview](200, 5*time.Minute),
		progressCache: cache.NewLRUCache[*services.BudgetProgress](200, 5*time.Minute),
		cacheManager:  cache.NewManager(),
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.Register(s.progressCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /transactions", s.protected(s.handleCreateTransaction))
	mux.HandleFunc("GET /transactions/{id}", s.protected(s.handleGetTransaction))
	mux.HandleFunc("PUT /transactions/{id}", s.protected(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /transactions/{id}", s.protected(s.handleDeleteTransaction))

	mux.HandleFunc("GET /accounts", s.protected(s.handleListAccounts))
	mux.HandleFunc("POST /accounts", s.protected(s.handleCreateAccount))
	mux.HandleFunc("POST /accounts/{id}/default", s.protected(s.handleSetDefaultAccount))
	mux.HandleFunc("GET /accounts/{id}/transactions", s.protected(s.handleListTransactions))
	mux.HandleFunc("GET /accounts/{id}/budget-progress", s.protected(s.handleBudgetProgress))

	mux.HandleFunc("GET /budget", s.protected(s.handleGetBudget))
	mux.HandleFunc("PUT /budget", s.protected(s.handleSetBudget))

	mux.HandleFunc("GET /overview", s.protected(s.handleOverview))

	return s
}

// protected is the standard middleware chain for API routes: request
// logging, rate limiting and token auth.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return s.withObservability(s.auth.middleware(next))
}

// withObservability adds request ids, security headers, rate limiting
// and request logging.
func (s *Server) withObservability(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)

		// Carry a request-scoped logger so handlers and the error
		// writer log with the request id attached.
		reqLogger := log.FromContext(ctx).WithComponent(log.ComponentHTTP).With(log.FieldRequestID, requestID)
		ctx = log.NewContext(ctx, reqLogger)
		r = r.WithContext(ctx)

		reqLogger.InfoContext(ctx, "Request started",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		if detectSuspiciousRequest(r, s.metrics) {
			reqLogger.WarnContext(ctx, "Suspicious request pattern",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path)
		}

		if isMutating(r.Method) && !s.rateLimiter.allow(clientIP, s.metrics) {
			reqLogger.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		reqLogger.InfoContext(ctx, "Request completed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// invalidateOwner drops every cached read for the owner. Called after
// any mutation so derived views never serve stale totals for long.
func (s *Server) invalidateOwner(ownerID string) {
	s.overviewCache.DeletePrefix(ownerID + "|")
	s.progressCache.DeletePrefix(ownerID + "|")
}

// Shutdown gracefully shuts down the server and its background
// routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		s.cacheManager.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Package httpapi exposes the sitemap ingestion pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentlytics/ingest-backend/internal/auth"
	"github.com/agentlytics/ingest-backend/internal/discovery"
	"github.com/agentlytics/ingest-backend/pkg/model"
)

// Submitter runs and tears down crawl submissions.
type Submitter interface {
	Submit(ctx context.Context, adminID, sitemapURL string) (*model.SubmitResponse, error)
	DeleteSitemap(ctx context.Context, adminID, sitemapURL string) (int64, error)
	DeletePage(ctx context.Context, adminID, pageURL string) (int64, error)
}

// Reader serves the GET views over stored crawl state.
type Reader interface {
	AllDiscovered(ctx context.Context, adminID string) ([]model.DiscoveredURL, error)
	URLStatuses(ctx context.Context, adminID string) ([]model.URLStatus, error)
	GetSetting(ctx context.Context, adminID string) (*model.AdminSetting, error)
	AggregateSitemaps(ctx context.Context, adminID string, page, pageSize int) ([]model.SitemapGroup, int, error)
	URLsForSitemap(ctx context.Context, adminID, sitemapURL string) ([]string, error)
}

type Server struct {
	router   *mux.Router
	crawler  Submitter
	store    Reader
	auth     *auth.Verifier
	deadline time.Duration
}

// NewServer wires the routes. deadline bounds how long one submission
// may run before the batch is cut short.
func NewServer(crawler Submitter, store Reader, verifier *auth.Verifier, deadline time.Duration) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		crawler:  crawler,
		store:    store,
		auth:     verifier,
		deadline: deadline,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/api/sitemap", s.submitSitemap).Methods("POST")
	s.router.HandleFunc("/api/sitemap", s.getSitemaps).Methods("GET")
	s.router.HandleFunc("/api/sitemap", s.deleteSitemap).Methods("DELETE")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "ingest-backend",
	})
}

type submitRequest struct {
	SitemapURL string `json:"sitemapUrl"`
}

// submitSitemap runs one submission for the authenticated admin. The
// response reports the batch progress; the client resubmits the same
// URL until totalRemaining reaches zero.
func (s *Server) submitSitemap(w http.ResponseWriter, r *http.Request) {
	adminID, err := s.auth.AdminID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SitemapURL == "" {
		writeError(w, http.StatusBadRequest, "sitemapUrl is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deadline)
	defer cancel()

	resp, err := s.crawler.Submit(ctx, adminID, req.SitemapURL)
	if err != nil {
		var derr *discovery.DiscoveryError
		if errors.As(err, &derr) {
			writeError(w, http.StatusBadRequest, derr.Error())
			return
		}
		log.Printf("httpapi: submit %s: %v", req.SitemapURL, err)
		writeError(w, http.StatusInternalServerError, "crawl failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// getSitemaps serves four views, selected by query parameter:
// ?debug=1 dumps all discovery records (API-key gated), ?settings=1
// returns the admin's last submission, ?urls=1 lists per-URL crawl
// status, and the default view is the paginated sitemap aggregation.
func (s *Server) getSitemaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("debug") == "1" {
		if !s.auth.DebugAllowed(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		adminID := q.Get("adminId")
		if adminID == "" {
			writeError(w, http.StatusBadRequest, "adminId is required")
			return
		}
		recs, err := s.store.AllDiscovered(r.Context(), adminID)
		if err != nil {
			log.Printf("httpapi: debug dump: %v", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"adminId": adminID,
			"count":   len(recs),
			"records": recs,
		})
		return
	}

	adminID, err := s.auth.AdminID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch {
	case q.Get("settings") == "1":
		setting, err := s.store.GetSetting(r.Context(), adminID)
		if err != nil {
			log.Printf("httpapi: get settings: %v", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if setting == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"settings": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"settings": setting})

	case q.Get("urls") == "1":
		statuses, err := s.store.URLStatuses(r.Context(), adminID)
		if err != nil {
			log.Printf("httpapi: url statuses: %v", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"urls":  statuses,
			"total": len(statuses),
		})

	default:
		page := queryInt(q.Get("page"), 1)
		pageSize := queryInt(q.Get("pageSize"), 10)
		groups, total, err := s.store.AggregateSitemaps(r.Context(), adminID, page, pageSize)
		if err != nil {
			log.Printf("httpapi: aggregate sitemaps: %v", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sitemaps": groups,
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
		})
	}
}

type deleteRequest struct {
	SitemapURL string `json:"sitemapUrl"`
	URL        string `json:"url"`
}

// deleteSitemap removes either a whole sitemap's data or a single
// page, depending on which field the body carries.
func (s *Server) deleteSitemap(w http.ResponseWriter, r *http.Request) {
	adminID, err := s.auth.AdminID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.SitemapURL == "" && req.URL == "") {
		writeError(w, http.StatusBadRequest, "sitemapUrl or url is required")
		return
	}

	var deleted int64
	if req.SitemapURL != "" {
		deleted, err = s.crawler.DeleteSitemap(r.Context(), adminID, req.SitemapURL)
	} else {
		deleted, err = s.crawler.DeletePage(r.Context(), adminID, req.URL)
	}
	if err != nil {
		log.Printf("httpapi: delete: %v", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": deleted,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s", r.RemoteAddr, r.Method, r.URL)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

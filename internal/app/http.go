package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nextpage/api/internal/authpw"
	"nextpage/api/internal/export"
	"nextpage/api/internal/identity"
	"nextpage/api/internal/imagegen"
	"nextpage/api/internal/imaging"
	"nextpage/api/internal/store"
)

type HTTPOptions struct {
	CORSOrigin string
	// CreateRatePerMinute limits story creation and image generation per
	// client IP. Zero disables the limit.
	CreateRatePerMinute int
	CreateBurst         int
	Metrics             *Metrics
	Logger              *zap.Logger
}

type HTTPServer struct {
	service  *Service
	opts     HTTPOptions
	validate *validator.Validate
	limiter  *ipLimiter
	metrics  *Metrics
	logger   *zap.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &HTTPServer{
		service:  service,
		opts:     opts,
		validate: newValidator(),
		metrics:  opts.Metrics,
		logger:   logger,
	}
	if opts.CreateRatePerMinute > 0 {
		s.limiter = newIPLimiter(rate.Limit(float64(opts.CreateRatePerMinute)/60), opts.CreateBurst)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.opts.CORSOrigin, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Post("/auth/signup", s.handleAuthSignUp)
		r.Post("/auth/signin", s.handleAuthSignIn)

		r.Route("/stories", func(r chi.Router) {
			r.Get("/roots", s.handleListRoots)
			r.Get("/search", s.handleSearch)
			r.With(s.rateLimited).Post("/", s.handleCreateStory)
			r.Get("/{storyID}", s.handleNodeDetail)
			r.Get("/{storyID}/scenario", s.handleScenario)
			r.Get("/{storyID}/path", s.handlePath)
			r.Get("/{storyID}/path/export", s.handleExportPath)
		})
		r.With(s.rateLimited).Post("/images", s.handleGenerateImage)
	})
	return r
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.metrics.observeRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
		)
	})
}

func (s *HTTPServer) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type signUpBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Nickname string `json:"nickname" validate:"required,max=50"`
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body signUpBody
	if !s.decodeValid(w, r, &body) {
		return
	}
	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Nickname: body.Nickname,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

type signInBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if !s.decodeValid(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func sessionResponse(session authpw.Session) map[string]any {
	return map[string]any{
		"accessToken": session.AccessToken,
		"userId":      session.User.ID,
		"nickname":    session.User.Nickname,
		"expiresAt":   session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := s.service.ListRoots(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roots)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.SearchStories(r.Context(), query.Get("q"), limit, offset))
}

type createStoryBody struct {
	Content  string `json:"content" validate:"required,max=10000"`
	ImageURL string `json:"imageUrl" validate:"required,url"`
	ParentID *int64 `json:"parentId" validate:"omitempty,gt=0"`
}

func (s *HTTPServer) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var body createStoryBody
	if !s.decodeValid(w, r, &body) {
		return
	}
	node, err := s.service.CreateNode(r.Context(), CreateNodeInput{
		Content:        body.Content,
		ImageSourceURL: body.ImageURL,
		ParentID:       body.ParentID,
	}, credentials(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nodeView(node))
}

func (s *HTTPServer) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := s.service.GetNodeDetail(r.Context(), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleScenario(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathID(w, r)
	if !ok {
		return
	}
	scenario, err := s.service.GetScenario(r.Context(), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenario)
}

func (s *HTTPServer) handlePath(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathID(w, r)
	if !ok {
		return
	}
	path, err := s.service.GetPath(r.Context(), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (s *HTTPServer) handleExportPath(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathID(w, r)
	if !ok {
		return
	}
	format := export.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	result, err := s.service.ExportPath(r.Context(), storyID, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

type generateImageBody struct {
	Content string `json:"content" validate:"required,max=1000"`
}

func (s *HTTPServer) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var body generateImageBody
	if !s.decodeValid(w, r, &body) {
		return
	}
	imageURL, err := s.service.GenerateImage(r.Context(), body.Content, credentials(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imageUrl": imageURL})
}

// decodeValid decodes and validates the body, writing a 400 on failure.
func (s *HTTPServer) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", validationDetails(err))
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationDetails(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "storyID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Story id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func credentials(r *http.Request) identity.Credentials {
	return identity.Credentials{Token: bearerToken(r)}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var acqErr *imaging.AcquisitionError
	if errors.As(err, &acqErr) {
		return http.StatusBadGateway, "IMAGE_" + strings.ToUpper(string(acqErr.Kind)) + "_FAILED", "Image could not be stored", nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrParentNotFound):
		return http.StatusNotFound, "PARENT_NOT_FOUND", "Parent story not found", nil
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil
	case errors.Is(err, imagegen.ErrUnavailable):
		return http.StatusServiceUnavailable, "IMAGE_GENERATION_UNAVAILABLE", "Image generation is not configured", nil
	case errors.Is(err, imagegen.ErrClient):
		return http.StatusUnprocessableEntity, "IMAGE_GENERATION_REJECTED", "Image generation rejected the request", nil
	case errors.Is(err, imagegen.ErrServer), errors.Is(err, imagegen.ErrResponse):
		return http.StatusBadGateway, "IMAGE_GENERATION_FAILED", "Image generation failed", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_PDF_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be html or pdf", nil
	case errors.Is(err, export.ErrEmptyPath):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// ipLimiter hands out one token bucket per client IP. Buckets idle for longer
// than idleTTL are swept on a later call.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	clients   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const minLimiterIdleTTL = 10 * time.Minute

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	// An evicted bucket comes back full, so keep it at least until it would
	// have refilled anyway.
	idle := minLimiterIdleTTL
	if limit > 0 {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &ipLimiter{
		limit:   limit,
		burst:   burst,
		idleTTL: idle,
		now:     time.Now,
		clients: make(map[string]*limiterEntry),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if l.lastSweep.IsZero() {
		l.lastSweep = now
	}
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for key, entry := range l.clients {
			if now.Sub(entry.lastSeen) >= l.idleTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}
	entry, ok := l.clients[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// clientIP reads RemoteAddr, which middleware.RealIP has already rewritten.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/auth"
	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey = "ghprofiler_subject"
	languageParameter = "language"
)

var (
	errMissingProfileService = errors.New("profile service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// ProfileQuerier answers user queries.
type ProfileQuerier interface {
	Query(ctx context.Context, criterion profiles.Criterion) ([]profiles.UserWithLanguages, error)
}

// TokenValidator checks bearer tokens and returns their subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// RateLimit configures the global token bucket. A zero rate disables limiting.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type Dependencies struct {
	ProfileService ProfileQuerier
	// TokenValidator is optional; without it /users is public.
	TokenValidator TokenValidator
	Logger         *zap.Logger
	RateLimit      RateLimit
	// Registry collects the HTTP metrics and backs /metrics; a private one is used when nil.
	Registry *prometheus.Registry
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ProfileService == nil {
		return nil, errMissingProfileService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(corsMiddleware())
	router.Use(requestID())
	router.Use(metrics.middleware())
	if deps.RateLimit.RequestsPerSecond > 0 {
		router.Use(rateLimit(deps.RateLimit))
	}

	handler := &httpHandler{
		profiles: deps.ProfileService,
		tokens:   deps.TokenValidator,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	protected := router.Group("/")
	if handler.tokens != nil {
		protected.Use(handler.authorizeRequest)
	}
	protected.GET("/users", handler.handleListUsers)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	profiles ProfileQuerier
	tokens   TokenValidator
	logger   *zap.Logger
}

type usersResponsePayload struct {
	Users []profiles.UserWithLanguages `json:"users"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	criterion, ok := criterionFromQuery(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conflicting_filters"})
		return
	}

	users, err := h.profiles.Query(c.Request.Context(), criterion)
	if err != nil {
		switch {
		case errors.Is(err, profiles.ErrInvalidColumn):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_column", "searchable": profiles.SearchableFields()})
		case errors.Is(err, profiles.ErrInvalidValue), errors.Is(err, profiles.ErrEmptyLanguageSet):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value"})
		default:
			code := ""
			var serviceErr *profiles.ServiceError
			if errors.As(err, &serviceErr) {
				code = serviceErr.Code()
			}
			h.logger.Error("profile query failed",
				zap.String("request_id", c.GetString(requestIDHeader)),
				zap.String("subject", c.GetString(subjectContextKey)),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed", "code": code})
		}
		return
	}

	if users == nil {
		users = []profiles.UserWithLanguages{}
	}
	c.JSON(http.StatusOK, usersResponsePayload{Users: users})
}

// criterionFromQuery accepts one field filter or one or more language parameters.
// Column names are passed through unchecked; the profile service owns the allow-list.
func criterionFromQuery(c *gin.Context) (profiles.Criterion, bool) {
	query := c.Request.URL.Query()
	languages := query[languageParameter]

	var match *profiles.FieldMatch
	for column, values := range query {
		if column == languageParameter {
			continue
		}
		if match != nil || len(values) != 1 {
			return nil, false
		}
		match = &profiles.FieldMatch{Column: column, Value: values[0]}
	}

	switch {
	case match != nil && len(languages) > 0:
		return nil, false
	case match != nil:
		return *match, true
	case len(languages) > 0:
		return profiles.LanguageSet{Names: languages}, true
	default:
		return nil, true
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

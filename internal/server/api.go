package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/drippay/backend/internal/cache"
	"github.com/drippay/backend/internal/config"
	apierrors "github.com/drippay/backend/internal/errors"
	"github.com/drippay/backend/internal/instant"
	"github.com/drippay/backend/internal/logging"
	"github.com/drippay/backend/internal/middleware"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/drippay/backend/internal/stream"
	"github.com/drippay/backend/internal/submission"
	"github.com/drippay/backend/internal/user"
	"github.com/drippay/backend/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserService manages profiles and recipient lists
type UserService interface {
	Create(ctx context.Context, req *user.CreateRequest) (*models.User, error)
	GetByPrivyID(ctx context.Context, privyID string) (*models.User, error)
	Login(ctx context.Context, privyID string) (*models.User, error)
	Update(ctx context.Context, identity string, id uuid.UUID, req *user.UpdateRequest) (*models.User, error)
	Delete(ctx context.Context, identity string, id uuid.UUID) error
	SaveRecipient(ctx context.Context, privyID string, r models.Recipient) ([]models.Recipient, error)
	GetRecipients(ctx context.Context, privyID string) ([]models.Recipient, error)
}

// InstantService records instant transfers
type InstantService interface {
	Create(ctx context.Context, req *instant.CreateRequest) (*models.Instant, bool, error)
	List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.InstantWithInvoice, error)
}

// StreamService records streams
type StreamService interface {
	Create(ctx context.Context, identity string, req *stream.CreateRequest) (*models.Stream, bool, error)
	List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.StreamWithInvoice, error)
	Stop(ctx context.Context, identity string, req *stream.StopRequest) (*models.Stream, error)
}

// SubmissionService journals on-chain submissions
type SubmissionService interface {
	Record(ctx context.Context, identity string, req *submission.RecordRequest) (*models.Submission, bool, error)
	Get(ctx context.Context, identity, chainID, txHash string) (*models.Submission, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services bundles the handlers' dependencies
type Services struct {
	Users       UserService
	Instants    InstantService
	Streams     StreamService
	Submissions SubmissionService
	DB          HealthChecker
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	services         Services
	jwtAuthenticator *middleware.JWTAuthenticator
	limiter          *cache.RateLimiter
}

// NewAPIServer creates a new API server instance. limiter may be nil.
func NewAPIServer(cfg *config.Config, services Services, limiter *cache.RateLimiter) (*APIServer, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := validation.RegisterBindings(); err != nil {
		return nil, err
	}

	jwtAuthenticator, err := middleware.NewJWTAuthenticator(&cfg.JWT)
	if err != nil {
		return nil, err
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		services:         services,
		jwtAuthenticator: jwtAuthenticator,
		limiter:          limiter,
	}

	srv.setupRoutes()
	return srv, nil
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// public returns the middleware chain for unauthenticated routes
func (s *APIServer) public() []gin.HandlerFunc {
	if s.limiter == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimit(s.limiter)}
}

// protected returns the middleware chain for bearer-authenticated routes
func (s *APIServer) protected() []gin.HandlerFunc {
	chain := []gin.HandlerFunc{s.jwtAuthenticator.JWTAuth()}
	if s.limiter != nil {
		chain = append(chain, middleware.RateLimit(s.limiter))
	}
	return chain
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	s.router.NoRoute(func(c *gin.Context) {
		respondError(c, apierrors.ErrRouteNotFoundError)
	})

	api := s.router.Group("/api")

	users := api.Group("/users")
	{
		open := users.Group("", s.public()...)
		open.POST("/create", s.handleCreateUser)
		open.POST("/login", s.handleLogin)

		authed := users.Group("", s.protected()...)
		authed.GET("/privy/:privyId", s.handleGetUserByPrivyID)
		authed.PATCH("/:id", s.handleUpdateUser)
		authed.DELETE("/:id", s.handleDeleteUser)
		authed.POST("/save-recepient/:privyId", s.handleSaveRecipient)
		authed.GET("/get-recepients/:privyId", s.handleGetRecipients)
	}

	instants := api.Group("/instant", s.protected()...)
	{
		instants.POST("/create", s.handleCreateInstant)
		instants.GET("/get/:walletAddress/:type/:chainId", s.handleListInstants)
	}

	streams := api.Group("/streams", s.protected()...)
	{
		streams.POST("/create", s.handleCreateStream)
		streams.GET("/get/:walletAddress/:type/:chainId", s.handleListStreams)
		streams.POST("/stop-stream", s.handleStopStream)
	}

	submissions := api.Group("/submissions", s.protected()...)
	{
		submissions.POST("", s.handleRecordSubmission)
		submissions.GET("/:chainId/:txHash", s.handleGetSubmission)
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	status := gin.H{
		"status":  "healthy",
		"service": "api",
	}
	if s.services.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.services.DB.Health(ctx); err != nil {
			logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", "health")
			status["status"] = "unhealthy"
			status["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(err, middleware.GetRequestIDFromContext(c)))
}

var errSenderNotRegistered = &apierrors.APIError{
	Code:       apierrors.ErrUserNotFound,
	Message:    "No user registered for sender wallet",
	HTTPStatus: http.StatusNotFound,
}

// respondServiceError maps service errors onto API errors. Anything unrecognized is logged
// and reported as an internal error.
func respondServiceError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		respondError(c, apierrors.ErrUserNotFoundError)
	case errors.Is(err, user.ErrDuplicateUser):
		respondError(c, apierrors.NewConflictError(err.Error()))
	case errors.Is(err, user.ErrForbidden), errors.Is(err, submission.ErrForbidden):
		respondError(c, apierrors.ErrForbiddenError)
	case errors.Is(err, stream.ErrSenderNotFound):
		respondError(c, errSenderNotRegistered)
	case errors.Is(err, stream.ErrNotOwner):
		respondError(c, apierrors.ErrNotOwnerError)
	case errors.Is(err, stream.ErrStreamNotFound):
		respondError(c, apierrors.ErrStreamNotFoundError)
	case errors.Is(err, instant.ErrInstantNotFound):
		respondError(c, apierrors.ErrInstantNotFoundError)
	case errors.Is(err, submission.ErrSubmissionNotFound):
		respondError(c, apierrors.ErrSubmissionNotFoundError)
	case errors.Is(err, stream.ErrAlreadyStopped), errors.Is(err, stream.ErrStreamCancelled),
		errors.Is(err, submission.ErrAlreadyClaimed):
		respondError(c, apierrors.NewConflictError(err.Error()))
	case errors.Is(err, instant.ErrInvalidRequest), errors.Is(err, stream.ErrInvalidRequest),
		errors.Is(err, submission.ErrInvalidPayload), errors.Is(err, submission.ErrUnsupportedChain),
		errors.Is(err, stream.ErrChainMismatch):
		respondError(c, apierrors.NewInvalidRequestError(err.Error()))
	default:
		logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", operation)
		respondError(c, apierrors.ErrInternalServerError)
	}
}

// requireSelf rejects requests whose path identity differs from the caller's
func requireSelf(c *gin.Context, privyID string) bool {
	identity := middleware.GetIdentityFromContext(c)
	if identity == "" || identity != privyID {
		logging.LogSecurityEvent("identity_mismatch", identity, c.ClientIP(), "path identity "+privyID)
		respondError(c, apierrors.ErrForbiddenError)
		return false
	}
	return true
}

// listParams validates the wallet/direction/chain path of the list endpoints
func listParams(c *gin.Context) (string, models.Direction, string, bool) {
	address := c.Param("walletAddress")
	if err := validation.ValidateAddress(address); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return "", "", "", false
	}
	dir, ok := models.ParseDirection(c.Param("type"))
	if !ok {
		respondError(c, apierrors.NewInvalidRequestError("type must be sender or receiver"))
		return "", "", "", false
	}
	chainID := c.Param("chainId")
	if err := validation.ValidateChainID(chainID); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return "", "", "", false
	}
	return address, dir, chainID, true
}

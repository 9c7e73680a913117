// Package facilitator implements the FacilitatorService: an HTTP-facing
// registry that routes a payload to a registered SchemeEngine by
// (scheme, network) and exposes /verify, /settle, /supported. Grounded on
// the teacher's x402Facilitator registry/dispatch (facilitator.go) and
// gin surface (pkg/gin/middleware.go, http/gin).
package facilitator

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/aeonpay/x402evm/x402types"
)

// SchemeEngine is what scheme/exactevm.Engine (and any future
// scheme/network implementation) must provide to be registered.
type SchemeEngine interface {
	Verify(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.VerifyResult, error)
	Settle(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.SettleResult, error)
}

// SupportedKind describes one (scheme, network, extra) tuple the service
// can handle, returned by /supported (spec §6).
type SupportedKind struct {
	Scheme  string                  `json:"scheme"`
	Network x402types.Network       `json:"network"`
	Extra   *x402types.EIP712Extra `json:"extra,omitempty"`
}

// DiscoveryFeed supplies discoverable routes' requirement/schema pairs to
// /supported, forwarded from a middleware.Service via WithDiscoveryFeed
// (spec §4.3 "Discovery/schema extension").
type DiscoveryFeed interface {
	DiscoverableRoutes() []DiscoverableRoute
}

// DiscoverableRoute is one discoverable route's requirement/schema pair.
type DiscoverableRoute struct {
	Requirement  x402types.PaymentRequirement `json:"requirement"`
	InputSchema  interface{}                  `json:"inputSchema,omitempty"`
	OutputSchema interface{}                  `json:"outputSchema,omitempty"`
}

type engineKey struct {
	scheme  string
	network x402types.Network
}

type registeredEngine struct {
	engine SchemeEngine
	extra  *x402types.EIP712Extra
}

// Service is the FacilitatorService.
type Service struct {
	mu      sync.RWMutex
	engines map[engineKey]registeredEngine
	bearers map[string]bool
	feed    DiscoveryFeed
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithBearerKeys restricts /verify and /settle to callers presenting one of
// the given API keys via "Authorization: Bearer <key>" (spec §6 "All
// endpoints accept optional Authorization: Bearer <key>"); /supported stays
// open.
func WithBearerKeys(keys ...string) Option {
	return func(s *Service) {
		for _, k := range keys {
			s.bearers[k] = true
		}
	}
}

// WithDiscoveryFeed wires a middleware.Service's discoverable routes into
// /supported.
func WithDiscoveryFeed(feed DiscoveryFeed) Option {
	return func(s *Service) { s.feed = feed }
}

// NewService constructs an empty FacilitatorService; engines are added with
// Register.
func NewService(opts ...Option) *Service {
	s := &Service{
		engines: make(map[engineKey]registeredEngine),
		bearers: make(map[string]bool),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register associates a SchemeEngine with the (scheme, network) pair it
// serves, mirroring the teacher's RegisterScheme (facilitator.go).
func (s *Service) Register(scheme string, network x402types.Network, extra *x402types.EIP712Extra, engine SchemeEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[engineKey{scheme: scheme, network: network}] = registeredEngine{engine: engine, extra: extra}
}

func (s *Service) lookup(scheme string, network x402types.Network) (registeredEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[engineKey{scheme: scheme, network: network}]
	return e, ok
}

// Verify looks up the registered engine for (payload.Scheme,
// requirement.Network) and delegates, used directly by middleware.Service
// as well as the HTTP handler below (spec: "FacilitatorService.verify →
// SchemeEngine.verify").
func (s *Service) Verify(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.VerifyResult, error) {
	entry, ok := s.lookup(payload.Scheme, requirement.Network)
	if !ok {
		reason := string(x402types.ReasonInvalidNetwork)
		return x402types.VerifyResult{IsValid: false, InvalidReason: &reason}, nil
	}
	return entry.engine.Verify(ctx, payload, requirement)
}

// Settle looks up the registered engine and delegates.
func (s *Service) Settle(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.SettleResult, error) {
	entry, ok := s.lookup(payload.Scheme, requirement.Network)
	if !ok {
		reason := string(x402types.ReasonInvalidNetwork)
		return x402types.SettleResult{Success: false, ErrorReason: &reason}, nil
	}
	return entry.engine.Settle(ctx, payload, requirement)
}

// RegisterRoutes mounts /verify, /settle, /supported onto router.
func (s *Service) RegisterRoutes(router gin.IRouter) {
	router.POST("/verify", s.authenticated(s.handleVerify))
	router.POST("/settle", s.authenticated(s.handleSettle))
	router.POST("/supported", s.handleSupported)
}

func (s *Service) authenticated(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.bearers) == 0 {
			next(c)
			return
		}
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || !s.bearers[header[len(prefix):]] {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid bearer token"})
			c.Abort()
			return
		}
		next(c)
	}
}

type verifyRequest struct {
	PaymentPayload      x402types.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402types.PaymentRequirement `json:"paymentRequirements"`
}

func (s *Service) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reason := string(x402types.ReasonInvalidPayload)
		c.JSON(http.StatusBadRequest, x402types.VerifyResult{IsValid: false, InvalidReason: &reason})
		return
	}

	result, err := s.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.log.Error("verify failed unexpectedly", "error", err)
		reason := string(x402types.ReasonUnexpectedVerifyError)
		c.JSON(http.StatusInternalServerError, x402types.VerifyResult{IsValid: false, InvalidReason: &reason})
		return
	}

	if !result.IsValid {
		c.JSON(http.StatusPaymentRequired, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Service) handleSettle(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reason := string(x402types.ReasonInvalidPayload)
		c.JSON(http.StatusBadRequest, x402types.SettleResult{Success: false, ErrorReason: &reason})
		return
	}

	result, err := s.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.log.Error("settle failed unexpectedly", "error", err)
		reason := string(x402types.ReasonUnexpectedSettleError)
		c.JSON(http.StatusInternalServerError, x402types.SettleResult{Success: false, ErrorReason: &reason})
		return
	}

	if !result.Success {
		c.JSON(http.StatusPaymentRequired, result)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     result.Success,
		"transaction": result.Transaction,
		"namespace":   "evm",
		"payer":       result.Payer,
	})
}

func (s *Service) handleSupported(c *gin.Context) {
	resp := gin.H{"kinds": s.SupportedKinds()}
	if s.feed != nil {
		resp["discoverable"] = s.feed.DiscoverableRoutes()
	}
	c.JSON(http.StatusOK, resp)
}

// SupportedKinds lists every (scheme, network) kind currently registered,
// used directly by both /supported and the MCP list_supported tool.
func (s *Service) SupportedKinds() []SupportedKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kinds := make([]SupportedKind, 0, len(s.engines))
	for key, entry := range s.engines {
		kinds = append(kinds, SupportedKind{Scheme: key.scheme, Network: key.network, Extra: entry.extra})
	}
	return kinds
}

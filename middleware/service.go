// Package middleware implements the ResourceMiddleware: HTTP middleware
// that gates protected routes behind a payment requirement, negotiates the
// 402 retry protocol with the caller, and delegates to a
// facilitator.Service for verification and settlement. Grounded on the
// teacher's http/service.go ProcessHTTPRequest/ProcessSettlement algorithm,
// generalized from a single facilitator-bundled struct to one that calls
// out to an injected Facilitator (spec §4.3).
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

// Facilitator is the subset of facilitator.Service the middleware depends
// on, kept as an interface so tests can stub verify/settle outcomes
// directly.
type Facilitator interface {
	Verify(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.VerifyResult, error)
	Settle(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.SettleResult, error)
}

// RouteConfig is one protected route's payment configuration, grounded on
// the teacher's http/service.go RouteConfig, narrowed to the fields this
// expansion's data model (x402types.PaymentRequirement) needs directly
// plus Price (a shorthand, spec §9 "Config surface").
type RouteConfig struct {
	Accepts           []x402types.PaymentRequirement
	Price             *Price
	PayTo             string
	Network           x402types.Network
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Discoverable      bool
	InputSchema       *json.RawMessage
	OutputSchema      *json.RawMessage
}

// Price is the shorthand config that synthesizes a single eip155:* requirement
// (spec §9 "price (shorthand that synthesizes a single eip155:* requirement
// via a pricing helper)").
type Price struct {
	Amount   float64
	Decimals int
	Asset    string
}

// RoutesConfig maps "VERB /path" patterns to RouteConfig, mirroring the
// teacher's RoutesConfig map[string]RouteConfig.
type RoutesConfig map[string]RouteConfig

type compiledRoute struct {
	verb    string
	regex   *regexp.Regexp
	pattern string
	config  RouteConfig
}

// Service is the ResourceMiddleware.
type Service struct {
	routes         []compiledRoute
	facilitator    Facilitator
	facilitatorURL string
	apiKey         string
	log            *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithFacilitatorURL records the upstream facilitator endpoint (spec §6
// config `facilitatorUrl`). The Service never dials it: verification and
// settlement always go through the Facilitator passed to NewService.
func WithFacilitatorURL(url string) Option {
	return func(s *Service) { s.facilitatorURL = url }
}

// WithAPIKey records a Bearer key for facilitator calls (spec §6
// `apiKey`). The Service does not send it anywhere; the Facilitator passed
// to NewService is called directly.
func WithAPIKey(key string) Option {
	return func(s *Service) { s.apiKey = key }
}

// NewService compiles routes and binds the facilitator collaborator.
// Registration returns an error on a malformed Discoverable route schema, per spec
// §4.3 "validates a route's declared schemas at registration time via
// gojsonschema, rejecting a malformed schema at startup rather than
// per-request."
func NewService(routes RoutesConfig, facilitator Facilitator, opts ...Option) (*Service, error) {
	s := &Service{facilitator: facilitator, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	for pattern, cfg := range routes {
		if cfg.Discoverable {
			if err := validateSchemas(cfg); err != nil {
				return nil, fmt.Errorf("middleware: route %q: %w", pattern, err)
			}
		}
		verb, regex := parseRoutePattern(pattern)
		s.routes = append(s.routes, compiledRoute{verb: verb, regex: regex, pattern: pattern, config: cfg})
	}
	return s, nil
}

func validateSchemas(cfg RouteConfig) error {
	for name, raw := range map[string]*json.RawMessage{"inputSchema": cfg.InputSchema, "outputSchema": cfg.OutputSchema} {
		if raw == nil {
			continue
		}
		loader := gojsonschema.NewBytesLoader(*raw)
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Handler returns a gin.HandlerFunc implementing the per-request algorithm
// of spec §4.3.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := s.matchRoute(normalizePath(c.Request.URL.Path), c.Request.Method)
		if route == nil {
			c.Next()
			return
		}

		requirements := s.effectiveRequirements(*route, c)

		payloadHeader := firstNonEmpty(c.GetHeader("payment-signature"), c.GetHeader("PAYMENT-SIGNATURE"), c.GetHeader("X-PAYMENT"), c.GetHeader("x-payment"))
		if payloadHeader == "" {
			s.writePaymentRequired(c, requirements, "Payment required")
			return
		}

		payload, err := x402types.DecodePaymentPayload(payloadHeader)
		if err != nil {
			s.writePaymentRequired(c, requirements, fmt.Sprintf("invalid payment header: %v", err))
			return
		}

		selected := matchRequirement(requirements, *payload)
		if selected == nil {
			s.writePaymentRequired(c, requirements, "Unable to find matching payment requirements")
			return
		}

		verifyResult, err := s.facilitator.Verify(c.Request.Context(), *payload, *selected)
		if err != nil {
			s.log.Error("verify call failed", "error", err)
			s.writePaymentRequired(c, requirements, err.Error())
			return
		}
		if !verifyResult.IsValid {
			reason := ""
			if verifyResult.InvalidReason != nil {
				reason = *verifyResult.InvalidReason
			}
			c.JSON(402, gin.H{"error": reason, "accepts": requirements, "payer": verifyResult.Payer})
			c.Abort()
			return
		}

		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		settleResult, err := s.facilitator.Settle(c.Request.Context(), *payload, *selected)
		if err != nil {
			s.log.Error("settle call failed", "error", err)
			return
		}
		if !settleResult.Success {
			reason := ""
			if settleResult.ErrorReason != nil {
				reason = *settleResult.ErrorReason
			}
			s.log.Warn("settlement failed after handler ran", "reason", reason)
			return
		}

		encoded, err := x402types.EncodeBase64(settleResult)
		if err != nil {
			s.log.Error("encode settlement header failed", "error", err)
			return
		}
		c.Header("X-PAYMENT-RESPONSE", encoded)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) matchRoute(path, method string) *compiledRoute {
	upper := strings.ToUpper(method)
	for i := range s.routes {
		r := &s.routes[i]
		if r.regex.MatchString(path) && (r.verb == "*" || r.verb == upper) {
			return r
		}
	}
	return nil
}

// effectiveRequirements fills resource and normalizes payTo for the route's
// accepted requirements, computing a Price shorthand requirement if no
// explicit Accepts list was given (spec §4.3 step 2, §9 Config surface).
func (s *Service) effectiveRequirements(route compiledRoute, c *gin.Context) []x402types.PaymentRequirement {
	cfg := route.config
	accepts := cfg.Accepts
	if len(accepts) == 0 && cfg.Price != nil {
		accepts = []x402types.PaymentRequirement{priceToRequirement(*cfg.Price, cfg)}
	}

	url := requestURL(c)
	out := make([]x402types.PaymentRequirement, len(accepts))
	for i, req := range accepts {
		req.Resource = url
		req.PayTo = checksumAddress(req.PayTo)
		if req.Description == "" {
			req.Description = cfg.Description
		}
		if req.MimeType == "" {
			req.MimeType = cfg.MimeType
		}
		if req.MaxTimeoutSeconds == 0 {
			req.MaxTimeoutSeconds = cfg.MaxTimeoutSeconds
		}
		out[i] = req
	}
	return out
}

// priceToRequirement synthesizes a single PaymentRequirement from the
// Price shorthand (spec §9), consulting the network's default asset,
// decimals and EIP-712 domain from chain.NetworkConfigs whenever the route
// doesn't spell them out explicitly.
func priceToRequirement(price Price, cfg RouteConfig) x402types.PaymentRequirement {
	asset := price.Asset
	decimals := price.Decimals
	var extra *x402types.EIP712Extra

	if netCfg, ok := chain.LookupNetworkConfig(cfg.Network); ok {
		if asset == "" {
			asset = netCfg.DefaultAsset
		}
		if decimals == 0 {
			decimals = netCfg.AssetDecimals
		}
		extra = &x402types.EIP712Extra{Name: netCfg.AssetName, Version: netCfg.AssetVersion}
	}

	return x402types.PaymentRequirement{
		Scheme:            x402types.SchemeExact,
		Network:           cfg.Network,
		Asset:             asset,
		PayTo:             cfg.PayTo,
		AmountRequired:    price.Amount,
		TokenDecimals:     decimals,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		Description:       cfg.Description,
		MimeType:          cfg.MimeType,
		Extra:             extra,
	}
}

func requestURL(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.RequestURI())
}

// matchRequirement returns the first requirement whose scheme and network
// equal the payload's (spec §4.3 step 4). networkId is not compared: the
// payload carries no networkId field.
func matchRequirement(requirements []x402types.PaymentRequirement, payload x402types.PaymentPayload) *x402types.PaymentRequirement {
	for i := range requirements {
		r := requirements[i]
		if r.Scheme == payload.Scheme && r.Network == payload.Network {
			return &r
		}
	}
	return nil
}

func (s *Service) writePaymentRequired(c *gin.Context, requirements []x402types.PaymentRequirement, errMsg string) {
	resp := x402types.PaymentRequiredResponse{
		X402Version: x402types.X402VersionCurrent,
		Error:       errMsg,
		Resource:    x402types.ResourceDescriptor{URL: requestURLFromGin(c)},
		Accepts:     requirements,
	}

	if isWebBrowser(c) {
		c.Data(402, "text/html; charset=utf-8", []byte(renderPaywall(resp)))
		c.Abort()
		return
	}

	encoded, _ := x402types.EncodeBase64(resp)
	c.Header("payment-required", encoded)
	c.JSON(402, resp)
	c.Abort()
}

func requestURLFromGin(c *gin.Context) string { return requestURL(c) }

func isWebBrowser(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	ua := c.GetHeader("User-Agent")
	return strings.Contains(accept, "text/html") && strings.Contains(ua, "Mozilla")
}

// checksumAddress applies EIP-55 checksumming to a route's configured
// payTo so requirements always advertise the mixed-case form regardless of
// how the route config spelled it, matching the teacher's
// mechanisms/evm/eip712.go use of common.HexToAddress(x).Hex().
func checksumAddress(addr string) string {
	if addr == "" {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

// parseRoutePattern parses "VERB /path" into an uppercased verb and a
// compiled regex, grounded directly on http/service.go's parseRoutePattern.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	parts := strings.Fields(pattern)

	var verb, path string
	if len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	} else {
		verb = "*"
		path = pattern
	}

	regexPattern := "^" + regexp.QuoteMeta(path)
	regexPattern = strings.ReplaceAll(regexPattern, `\*`, `.*?`)
	paramRegex := regexp.MustCompile(`\\\[([^\]]+)\\\]`)
	regexPattern = paramRegex.ReplaceAllString(regexPattern, `[^/]+`)
	regexPattern += "$"

	return verb, regexp.MustCompile(regexPattern)
}

// normalizePath normalizes a URL path for matching, grounded directly on
// http/service.go's normalizePath.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	path = strings.ReplaceAll(path, `\`, `/`)
	path = regexp.MustCompile(`/+`).ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)
	if path == "" {
		path = "/"
	}
	return path
}

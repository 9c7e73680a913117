// Command facilitatorserver runs the FacilitatorService as a standalone
// gin HTTP server, exposing /verify, /settle, /supported for any
// ResourceMiddleware to call over the wire (spec §6 external interfaces).
// Grounded on the teacher's cmd-level wiring (root server.go) generalized
// to multi-network registration driven by envconfig.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/facilitator"
	"github.com/aeonpay/x402evm/internal/envconfig"
	"github.com/aeonpay/x402evm/internal/telemetry"
	"github.com/aeonpay/x402evm/scheme/exactevm"
	"github.com/aeonpay/x402evm/x402types"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := envconfig.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	var sink *telemetry.Sink
	if cfg.ScanSinkURL != "" {
		sink = telemetry.NewSink(cfg.ScanSinkURL, telemetry.WithLogger(log))
		defer sink.Close()
	}

	svc := facilitator.NewService(facilitator.WithLogger(log), facilitator.WithBearerKeys(cfg.BearerKeys...))

	ctx := context.Background()
	for network, rpcURL := range cfg.RPCURLs {
		gw, err := chain.NewGateway(ctx, rpcURL, cfg.SignerKey, chain.WithLogger(log))
		if err != nil {
			log.Error("gateway init failed, skipping network", "network", network, "error", err)
			continue
		}

		opts := []exactevm.Option{exactevm.WithLogger(log)}
		if sink != nil {
			opts = append(opts, exactevm.WithScanSink(sink))
		}
		if cfg.PaymasterURL != "" {
			chainID := chain.ResolveChainID(x402types.Network(network))
			opts = append(opts, exactevm.WithPaymaster(exactevm.NewHTTPPaymaster(cfg.PaymasterURL, cfg.PaymasterPolicy), chainID))
		}

		engine := exactevm.NewEngine(gw, opts...)
		svc.Register(x402types.SchemeExact, x402types.Network(network), nil, engine)
		log.Info("registered network", "network", network)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	svc.RegisterRoutes(router)

	log.Info("facilitator listening", "addr", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// Command facilitatormcp exposes the FacilitatorService as three MCP tools
// (verify_payment, settle_payment, list_supported) over stdio, a thin
// transport adapter carrying no logic beyond marshaling to/from
// facilitator.Service (SPEC_FULL.md "MCP surface"). Grounded on the
// teacher's mcp/ package shape and github.com/modelcontextprotocol/go-sdk.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/facilitator"
	"github.com/aeonpay/x402evm/internal/envconfig"
	"github.com/aeonpay/x402evm/internal/telemetry"
	"github.com/aeonpay/x402evm/scheme/exactevm"
	"github.com/aeonpay/x402evm/x402types"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := envconfig.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	svc := facilitator.NewService(facilitator.WithLogger(log), facilitator.WithBearerKeys(cfg.BearerKeys...))

	for network, rpcURL := range cfg.RPCURLs {
		gw, err := chain.NewGateway(context.Background(), rpcURL, cfg.SignerKey, chain.WithLogger(log))
		if err != nil {
			log.Error("gateway init failed", "network", network, "error", err)
			continue
		}
		engineOpts := []exactevm.Option{exactevm.WithLogger(log)}
		chainID := chain.ResolveChainID(x402types.Network(network))
		if cfg.ScanSinkURL != "" {
			sink := telemetry.NewSink(cfg.ScanSinkURL, telemetry.WithLogger(log))
			defer sink.Close()
			engineOpts = append(engineOpts, exactevm.WithScanSink(sink))
		}
		if cfg.PaymasterURL != "" {
			engineOpts = append(engineOpts, exactevm.WithPaymaster(exactevm.NewHTTPPaymaster(cfg.PaymasterURL, cfg.PaymasterPolicy), chainID))
		}
		engine := exactevm.NewEngine(gw, engineOpts...)
		svc.Register(x402types.SchemeExact, x402types.Network(network), nil, engine)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "x402-facilitator", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_payment",
		Description: "Verify an x402 exact-evm payment payload against a payment requirement without settling it.",
	}, verifyTool(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "settle_payment",
		Description: "Verify and settle an x402 exact-evm payment payload on-chain.",
	}, settleTool(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_supported",
		Description: "List the (scheme, network) kinds this facilitator supports.",
	}, listSupportedTool(svc))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
}

type paymentArgs struct {
	Payload     x402types.PaymentPayload     `json:"paymentPayload"`
	Requirement x402types.PaymentRequirement `json:"paymentRequirements"`
}

func verifyTool(svc *facilitator.Service) func(context.Context, *mcp.CallToolRequest, paymentArgs) (*mcp.CallToolResult, x402types.VerifyResult, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args paymentArgs) (*mcp.CallToolResult, x402types.VerifyResult, error) {
		result, err := svc.Verify(ctx, args.Payload, args.Requirement)
		if err != nil {
			return errResult(err), x402types.VerifyResult{}, nil
		}
		return textResult(fmt.Sprintf("isValid=%v payer=%s", result.IsValid, result.Payer)), result, nil
	}
}

func settleTool(svc *facilitator.Service) func(context.Context, *mcp.CallToolRequest, paymentArgs) (*mcp.CallToolResult, x402types.SettleResult, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args paymentArgs) (*mcp.CallToolResult, x402types.SettleResult, error) {
		result, err := svc.Settle(ctx, args.Payload, args.Requirement)
		if err != nil {
			return errResult(err), x402types.SettleResult{}, nil
		}
		return textResult(fmt.Sprintf("success=%v transaction=%s", result.Success, result.Transaction)), result, nil
	}
}

type noArgs struct{}

func listSupportedTool(svc *facilitator.Service) func(context.Context, *mcp.CallToolRequest, noArgs) (*mcp.CallToolResult, []facilitator.SupportedKind, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ noArgs) (*mcp.CallToolResult, []facilitator.SupportedKind, error) {
		kinds := svc.SupportedKinds()
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = fmt.Sprintf("%s/%s", k.Scheme, k.Network)
		}
		return textResult(strings.Join(names, ", ")), kinds, nil
	}
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}

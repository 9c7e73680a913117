package middleware

import (
	"bytes"
	"encoding/json"
	"html/template"

	"github.com/aeonpay/x402evm/x402types"
)

// paywallTemplate is a single bundled HTML template injected with the
// requirements JSON (spec §1 Non-goals: "UI paywall rendering beyond a
// single HTML template injection"), grounded on the teacher's
// pkg/shared.GetPaywallHTML template idiom.
var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body { font-family: system-ui, -apple-system, sans-serif; margin: 0; background: #f5f5f5; }
		.container { max-width: 600px; margin: 50px auto; padding: 24px; background: #fff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
		h1 { color: #222; }
		.error { color: #b00020; }
	</style>
</head>
<body>
	<div class="container">
		<h1>Payment Required</h1>
		{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
		<p>{{.Resource.Description}}</p>
		<div id="x402-requirements" data-requirements='{{.RequirementsJSON}}'></div>
	</div>
</body>
</html>`))

type paywallData struct {
	Error            string
	Resource         x402types.ResourceDescriptor
	RequirementsJSON template.JS
}

// renderPaywall renders the bundled paywall template for resp, injecting
// the accepts list as data for a client-side payment widget.
func renderPaywall(resp x402types.PaymentRequiredResponse) string {
	raw, _ := json.Marshal(resp)

	var buf bytes.Buffer
	_ = paywallTemplate.Execute(&buf, paywallData{
		Error:            resp.Error,
		Resource:         resp.Resource,
		RequirementsJSON: template.JS(raw),
	})
	return buf.String()
}

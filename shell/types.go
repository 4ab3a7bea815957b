package shell

import "encoding/json"

// InvokeResponse is the body of a POST /invoke/:command response.
type InvokeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// invokeFrame is a WebSocket request message.
type invokeFrame struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// resultFrame is a WebSocket response message.
type resultFrame struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

type backendCallArgs struct {
	MsgJSON string `json:"msgJson"`
}

type saveBrandingArgs struct {
	BrandingJSON string `json:"brandingJson"`
}

type downloadLogoArgs struct {
	URL string `json:"url"`
}

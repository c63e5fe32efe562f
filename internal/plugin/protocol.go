package plugin

import "encoding/json"

// JSON-RPC 2.0 error codes used by lightningd.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (m message) isNotification() bool { return len(m.ID) == 0 || string(m.ID) == "null" }

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Manifest is the getmanifest answer.
type Manifest struct {
	Options       []Option    `json:"options"`
	RPCMethods    []RPCMethod `json:"rpcmethods"`
	Subscriptions []string    `json:"subscriptions"`
	Hooks         []string    `json:"hooks"`
	Dynamic       bool        `json:"dynamic"`
}

type Option struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description"`
}

type RPCMethod struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

// Configuration is the "configuration" object of the init request.
type Configuration struct {
	LightningDir string `json:"lightning-dir"`
	RPCFile      string `json:"rpc-file"`
	Network      string `json:"network,omitempty"`
}

// InitRequest carries the init parameters.
type InitRequest struct {
	Options       map[string]any `json:"options"`
	Configuration Configuration  `json:"configuration"`
}

// Option returns the string value of a plugin option, or def.
func (r InitRequest) Option(name, def string) string {
	if v, ok := r.Options[name].(string); ok && v != "" {
		return v
	}
	return def
}

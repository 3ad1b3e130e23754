package handlers

import "github.com/funmagic-ai/magiworld-sub000/internal/breaker"

// Tools names every built-in tool slug this registry can dispatch, used by
// the Tool Catalog/handler mismatch check.
const (
	ToolBackgroundRemove = "background-remove"
	ToolPhotoStylize3D   = "photo-stylize-3d"
)

// NewDefaultRegistry wires every built-in handler against the adapters a
// worker process constructed at startup.
func NewDefaultRegistry(clients ProviderClients, br *breaker.Registry) *Registry {
	return NewRegistry(map[string]Handler{
		ToolBackgroundRemove: NewBackgroundRemoveHandler(clients.OpenAI, br),
		ToolPhotoStylize3D:   NewStylize3DHandler(clients.Anthropic, clients.Bedrock, br),
	})
}

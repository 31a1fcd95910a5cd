package models

import "encoding/json"

// ModelInfo describes a model offered by the inference provider.
type ModelInfo struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ContextLength int             `json:"context_length"`
	Architecture  json.RawMessage `json:"architecture,omitempty"`
	Pricing       json.RawMessage `json:"pricing,omitempty"`
	TopProvider   json.RawMessage `json:"top_provider,omitempty"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// CatalogErrorResponse mirrors the {success, error} envelope of the catalog endpoint.
type CatalogErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// InfoHandler reports how the server is wired.
type InfoHandler struct {
	dataDir  string
	features []string
}

func NewInfoHandler(dataDir string, features ...string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, features: features}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path, empty when in memory"`
	Features []string `json:"features" doc:"Enabled features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := append([]string{"sessions", "tours", "sse"}, h.features...)
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-atlas",
		Version:  Version,
		DataDir:  h.dataDir,
		Features: features,
	}}, nil
}

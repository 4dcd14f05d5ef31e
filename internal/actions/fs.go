package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/playbook/pkg/schema"
)

// FSConfig configures the filesystem handlers. WorkspaceDir is the root all
// created paths are resolved against; escapes via ".." are rejected.
type FSConfig struct {
	WorkspaceDir string
}

// FSHandlers returns the filesystem-related handlers.
func FSHandlers(cfg FSConfig) []Handler {
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "."
	}
	return []Handler{
		&createFolderHandler{cfg: cfg},
	}
}

const createFolderInputSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "parent": {"type": "string"}
  },
  "required": ["name"]
}`

type createFolderHandler struct {
	cfg FSConfig
}

func (h *createFolderHandler) Name() string { return "create_folder" }

func (h *createFolderHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description: "Create a folder under the workspace directory",
		InputSchema: []byte(createFolderInputSchema),
	}
}

func (h *createFolderHandler) Validate(params map[string]any) error {
	name, _ := params["name"].(string)
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "create_folder requires non-empty 'name' parameter")
	}
	return nil
}

func (h *createFolderHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerOutput, error) {
	name, _ := input.Params["name"].(string)
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "create_folder requires non-empty 'name' parameter")
	}
	parent, _ := input.Params["parent"].(string)

	path, err := h.resolve(filepath.Join(parent, name))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "create folder %q: %s", name, err.Error()).WithCause(err)
	}

	return marshalOutput(map[string]any{
		"path": path,
	}, "folder created")
}

// resolve joins rel onto the workspace root and rejects path escapes.
func (h *createFolderHandler) resolve(rel string) (string, error) {
	root, err := filepath.Abs(h.cfg.WorkspaceDir)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid workspace dir: %s", err.Error())
	}
	full := filepath.Clean(filepath.Join(root, rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "path escapes workspace: %s", rel)
	}
	return full, nil
}

package actions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func TestCreateFolder(t *testing.T) {
	dir := t.TempDir()
	h := FSHandlers(FSConfig{WorkspaceDir: dir})[0]
	require.Equal(t, "create_folder", h.Name())

	out, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{"name": "Acme Corp", "parent": "clients"},
	})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &result))
	created := result["path"].(string)
	assert.Equal(t, filepath.Join(dir, "clients", "Acme Corp"), created)

	info, err := os.Stat(created)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateFolderIdempotent(t *testing.T) {
	dir := t.TempDir()
	h := FSHandlers(FSConfig{WorkspaceDir: dir})[0]

	input := HandlerInput{Params: map[string]any{"name": "repeat"}}
	_, err := h.Execute(context.Background(), input)
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), input)
	require.NoError(t, err)
}

func TestCreateFolderRejectsEscape(t *testing.T) {
	h := FSHandlers(FSConfig{WorkspaceDir: t.TempDir()})[0]

	_, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{"name": "../../etc/evil"},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestCreateFolderValidation(t *testing.T) {
	h := FSHandlers(FSConfig{})[0]
	require.Error(t, h.Validate(map[string]any{}))
	require.NoError(t, h.Validate(map[string]any{"name": "ok"}))
}

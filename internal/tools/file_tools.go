package tools

import (
	"fmt"

	"github.com/bentman/JARVISv5/internal/sandbox"
)

// ReadFileInput is read_file's schema.
type ReadFileInput struct {
	Path string `json:"path" validate:"required"`
}

// ListDirectoryInput is list_directory's schema.
type ListDirectoryInput struct {
	Path string `json:"path" validate:"required"`
}

// FileInfoInput is file_info's schema.
type FileInfoInput struct {
	Path string `json:"path" validate:"required"`
}

// WriteFileInput is write_file's schema.
type WriteFileInput struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// DeleteFileInput is delete_file's schema.
type DeleteFileInput struct {
	Path string `json:"path" validate:"required"`
}

// SearchFilesInput is search_files's schema. MaxResults defaults to 100
// (set by the NewInput constructor before json.Unmarshal overwrites it)
// and is bounded [1, 1000], mirroring file_tools.py's
// `Field(default=100, ge=1, le=1000)`.
type SearchFilesInput struct {
	Root       string `json:"root" validate:"required"`
	Pattern    string `json:"pattern" validate:"required"`
	MaxResults int    `json:"max_results" validate:"min=1,max=1000"`
}

func runReadFile(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*ReadFileInput)
	result, err := sb.ReadText(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": result.Path, "content": result.Content, "size": result.Size}, nil
}

func runListDirectory(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*ListDirectoryInput)
	result, err := sb.ListDir(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": result.Path, "entries": result.Entries}, nil
}

func runFileInfo(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*FileInfoInput)
	result, err := sb.FileInfo(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"path": result.Path, "type": result.Type, "size": result.Size, "mod_time": result.ModTime,
	}, nil
}

func runWriteFile(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*WriteFileInput)
	result, err := sb.WriteText(in.Path, in.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": result.Path, "size": result.Size}, nil
}

func runDeleteFile(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*DeleteFileInput)
	path, err := sb.Delete(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "deleted": true}, nil
}

func runSearchFiles(sb *sandbox.Sandbox, input any) (map[string]any, error) {
	in := input.(*SearchFilesInput)
	result, err := sb.Search(in.Root, in.Pattern, in.MaxResults)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"root": result.Root, "pattern": result.Pattern, "matches": result.Matches, "truncated": result.Truncated,
	}, nil
}

// RegisterCoreFileTools registers the six file tools against sb, matching
// file_tools.py's register_core_file_tools: read_file/list_directory/
// file_info/search_files at READ_ONLY, write_file/delete_file at
// WRITE_SAFE.
func RegisterCoreFileTools(registry *Registry, sb *sandbox.Sandbox) error {
	registrations := []struct {
		def     Definition
		handler func(*sandbox.Sandbox, any) (map[string]any, error)
	}{
		{Definition{Name: "read_file", Description: "Read a UTF-8 text file.", Tier: TierReadOnly,
			NewInput: func() any { return &ReadFileInput{} }}, runReadFile},
		{Definition{Name: "list_directory", Description: "List a directory's entries.", Tier: TierReadOnly,
			NewInput: func() any { return &ListDirectoryInput{} }}, runListDirectory},
		{Definition{Name: "file_info", Description: "Stat a path.", Tier: TierReadOnly,
			NewInput: func() any { return &FileInfoInput{} }}, runFileInfo},
		{Definition{Name: "search_files", Description: "Glob-search for paths.", Tier: TierReadOnly,
			NewInput: func() any { return &SearchFilesInput{MaxResults: 100} }}, runSearchFiles},
		{Definition{Name: "write_file", Description: "Write a UTF-8 text file.", Tier: TierWriteSafe,
			NewInput: func() any { return &WriteFileInput{} }}, runWriteFile},
		{Definition{Name: "delete_file", Description: "Delete a single file.", Tier: TierWriteSafe,
			NewInput: func() any { return &DeleteFileInput{} }}, runDeleteFile},
	}

	for _, r := range registrations {
		handler := r.handler
		if err := registry.Register(r.def, func(input any) (map[string]any, error) {
			return handler(sb, input)
		}); err != nil {
			return fmt.Errorf("tools: register %s: %w", r.def.Name, err)
		}
	}
	return nil
}

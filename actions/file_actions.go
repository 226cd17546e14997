package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/quillworks/automation"
	"github.com/quillworks/automation/retry"
)

// MoveFileInput defines the input parameters for the move_file action.
type MoveFileInput struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Overwrite       bool   `json:"overwrite"`
	CreateDirs      bool   `json:"create_dirs"`
}

// MoveFileAction moves a file on the local filesystem. Cross-device moves
// fall back to copy-then-remove.
type MoveFileAction struct{}

func NewMoveFileAction() *MoveFileAction {
	return &MoveFileAction{}
}

func (a *MoveFileAction) Type() automation.StepType {
	return automation.StepTypeMoveFile
}

func (a *MoveFileAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params MoveFileInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.SourcePath == "" {
		return nil, fmt.Errorf("move_file requires 'source_path'")
	}
	if params.DestinationPath == "" {
		return nil, fmt.Errorf("move_file requires 'destination_path'")
	}

	info, err := os.Stat(params.SourcePath)
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("source file not accessible: %w", err))
	}
	if !params.Overwrite {
		if _, err := os.Stat(params.DestinationPath); err == nil {
			return nil, retry.NonRecoverable(fmt.Errorf("destination %q already exists", params.DestinationPath))
		}
	}
	if params.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(params.DestinationPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	if err := os.Rename(params.SourcePath, params.DestinationPath); err != nil {
		if err := copyFile(params.SourcePath, params.DestinationPath, info); err != nil {
			return nil, fmt.Errorf("failed to move file: %w", err)
		}
		if err := os.Remove(params.SourcePath); err != nil {
			return nil, fmt.Errorf("failed to remove source after copy: %w", err)
		}
	}
	return map[string]any{
		"source_path":      params.SourcePath,
		"destination_path": params.DestinationPath,
		"size_bytes":       info.Size(),
		"moved_at":         time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func copyFile(source, destination string, info os.FileInfo) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

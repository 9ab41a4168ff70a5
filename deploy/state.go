package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Deployment modes recorded in the state file.
const (
	ModeEmbedded = "embedded"
	ModeCompose  = "compose"
)

// State records what `deploy up` started so later `deploy down` and
// `deploy status` invocations know what to tear down or inspect.
type State struct {
	Mode        string    `json:"mode"`
	ComposeFile string    `json:"compose_file,omitempty"`
	NATSURL     string    `json:"nats_url,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// DefaultStateFile returns the per-user deployment state path.
func DefaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "otter-deploy.json")
	}
	return filepath.Join(home, ".local", "state", "otter", "deploy.json")
}

// SaveState writes the deployment state file.
func SaveState(path string, state *State) error {
	if path == "" {
		path = DefaultStateFile()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal deployment state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write deployment state: %w", err)
	}
	return nil
}

// LoadState reads the deployment state file. A missing file returns
// os.ErrNotExist wrapped.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStateFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse deployment state: %w", err)
	}
	return &state, nil
}

// ClearState removes the state file. Missing files are not an error.
func ClearState(path string) error {
	if path == "" {
		path = DefaultStateFile()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove deployment state: %w", err)
	}
	return nil
}

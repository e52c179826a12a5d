package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quickchat/quickchat/internal/core"
)

// State is the serializable snapshot of a client session: the room it was
// bound to, the display name it used, and the messages it had seen. Pending
// entries are deliberately excluded; an unacknowledged send does not survive
// a restart.
type State struct {
	Room     string         `json:"room,omitempty"`
	Name     string         `json:"name,omitempty"`
	Messages []core.Message `json:"messages,omitempty"`
}

// LoadState reads a snapshot from path. A missing file is not an error and
// yields an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

// SaveState writes a snapshot atomically: a temp file in the same directory
// followed by a rename, so a crash mid-write never truncates the previous
// snapshot.
func SaveState(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Snapshot captures the current session state for persistence. It is safe to
// call from the store's change callback.
func Snapshot(c *Conn, store *MessageStore) *State {
	room, name := c.Session()
	return &State{Room: room, Name: name, Messages: store.Messages()}
}

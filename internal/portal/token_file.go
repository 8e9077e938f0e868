package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileTokenPersister keeps the token in a JSON file. Two processes sharing one file race
// on refresh; the last writer wins.
type FileTokenPersister struct {
	path string
}

// NewFileTokenPersister constructs a persister for path.
func NewFileTokenPersister(path string) (*FileTokenPersister, error) {
	if path == "" {
		return nil, errors.New("token file: empty path")
	}
	return &FileTokenPersister{path: path}, nil
}

// Path returns the file location.
func (p *FileTokenPersister) Path() string { return p.path }

// Load reads the token. A missing file is not an error.
func (p *FileTokenPersister) Load() (Token, bool, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("token file: read: %w", err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, false, fmt.Errorf("token file: decode: %w", err)
	}
	if token.Value == "" {
		return Token{}, false, nil
	}
	return token, true, nil
}

// Save writes the token through a temp file and rename.
func (p *FileTokenPersister) Save(token Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("token file: encode: %w", err)
	}
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("token file: temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("token file: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("token file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("token file: close: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("token file: rename: %w", err)
	}
	return nil
}

// Clear removes the file.
func (p *FileTokenPersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("token file: remove: %w", err)
	}
	return nil
}

package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/openmined/dirsync/internal/utils"
)

var (
	home, _             = os.UserHomeDir()
	DefaultSettingsDir  = filepath.Join(home, ".dirsync")
	DefaultSettingsPath = filepath.Join(DefaultSettingsDir, "config.json")
	DefaultLogDir       = filepath.Join(DefaultSettingsDir, "logs")
	DefaultHistoryPath  = filepath.Join(DefaultSettingsDir, "history.db")
	DefaultLockDir      = filepath.Join(DefaultSettingsDir, "locks")
)

// known keys of the config file; anything else in it is kept as is
var settingsKeys = []string{"source_dir", "destination_dir", "policy", "create_log", "log_dir"}

// Settings is the record remembered between CLI runs.
type Settings struct {
	SourceDir      string `json:"source_dir"`
	DestinationDir string `json:"destination_dir"`
	Policy         string `json:"policy"`
	CreateLog      bool   `json:"create_log"`
	LogDir         string `json:"log_dir"`
	Path           string `json:"-"`
}

func Default() *Settings {
	return &Settings{
		Policy:    "mirror",
		CreateLog: true,
		LogDir:    DefaultLogDir,
		Path:      DefaultSettingsPath,
	}
}

// Load reads the record at path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	s.Path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	} else if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Save writes the record to s.Path, keeping any other keys already in the file.
func (s *Settings) Save() error {
	if s.Path == "" {
		return errors.New("settings path not set")
	}
	if err := utils.EnsureParent(s.Path); err != nil {
		return err
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(s.Path); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse settings %s: %w", s.Path, err)
		}
	}

	fields, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var values map[string]any
	if err := json.Unmarshal(fields, &values); err != nil {
		return err
	}
	for _, key := range settingsKeys {
		doc[key] = values[key]
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(s.Path, data, 0o644)
}

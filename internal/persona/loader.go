package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadOverrides reads *.yaml persona definitions from dir and replaces
// built-ins by id. A missing directory is not an error; a malformed file is.
func loadOverrides(dir string, defs map[Mode]*Definition) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		defs[def.ID] = &def
	}
	return nil
}

// SaveDefinition writes one definition as YAML, for seeding an overrides
// directory from the built-ins.
func SaveDefinition(dir string, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create definitions dir: %w", err)
	}

	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal persona %s: %w", def.ID, err)
	}

	path := filepath.Join(dir, string(def.ID)+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

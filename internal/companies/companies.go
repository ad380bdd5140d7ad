// Package companies loads the static list of companies offered to clients.
package companies

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrLoad wraps every failure to read or decode the list.
var ErrLoad = errors.New("failed to load companies")

// Company is one listing entry. Fields are passed through as written in the
// file so the list can follow whatever the upstream site uses.
type Company map[string]any

// tomlFile is the TOML layout: an array of [[companies]] tables.
type tomlFile struct {
	Companies []Company `toml:"companies"`
}

// Load reads the list from path. Files ending in .toml are decoded as TOML,
// anything else as a JSON array.
func Load(path string) ([]Company, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	var list []Company
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var f tomlFile
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrLoad, filepath.Base(path), err)
		}
		list = f.Companies
	default:
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrLoad, filepath.Base(path), err)
		}
	}

	if list == nil {
		list = []Company{}
	}
	return list, nil
}

package filesource

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases reads a YAML file mapping alternative country names to ISO3
// codes. An empty path yields no aliases.
func LoadAliases(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}

	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse aliases %s: %w", path, err)
	}

	out := make(map[string]string, len(file.Aliases))
	for name, code := range file.Aliases {
		code = strings.ToUpper(strings.TrimSpace(code))
		if !domain.IsISO3(code) {
			return nil, fmt.Errorf("alias %q: invalid iso3 %q", name, code)
		}
		out[name] = code
	}
	return out, nil
}

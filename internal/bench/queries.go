package bench

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadQueries reads benchmark queries from path. Files ending in .yaml or
// .yml hold a top-level "queries" list; anything else is read as one query
// per line. Blank lines and lines starting with # are skipped.
func LoadQueries(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bench: read queries %s", path)
	}

	var raw []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var wrapper struct {
			Queries []string `yaml:"queries"`
		}
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return nil, eris.Wrap(err, "bench: parse queries")
		}
		raw = wrapper.Queries
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			raw = append(raw, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, eris.Wrap(err, "bench: scan queries")
		}
	}

	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" || strings.HasPrefix(q, "#") {
			continue
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, eris.Errorf("bench: no queries in %s", path)
	}
	return queries, nil
}

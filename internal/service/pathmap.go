package service

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/webitel/media_jobs/internal/model"
)

type pathMapping struct {
	remote string
	local  string
}

// PathMapper rewrites paths reported by a remote media manager to paths seen
// by this host. The first matching prefix wins.
type PathMapper struct {
	mappings []pathMapping
}

// NewPathMapper parses "remote=local" pairs.
func NewPathMapper(pairs []string) (*PathMapper, error) {
	m := &PathMapper{}

	for _, p := range pairs {
		remote, local, ok := strings.Cut(p, "=")
		remote, local = strings.TrimSpace(remote), strings.TrimSpace(local)

		if !ok || remote == "" || local == "" {
			return nil, errors.Wrapf(model.ErrInvalidArgument, "path mapping %q, want remote=local", p)
		}

		m.mappings = append(m.mappings, pathMapping{remote: remote, local: local})
	}

	return m, nil
}

func (m *PathMapper) Map(path string) string {
	for _, pm := range m.mappings {
		if !hasPathPrefix(path, pm.remote) {
			continue
		}

		rest := strings.TrimPrefix(path, pm.remote)

		return filepath.Join(pm.local, filepath.FromSlash(rest))
	}

	return path
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}

	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}

	return path[len(prefix)] == '/'
}

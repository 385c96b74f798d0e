package service

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/internal/model"
)

var (
	defaultLightExtensions = []string{".mkv"}
	defaultHeavyExtensions = []string{".mp4", ".m4v", ".mov"}
)

// Classifier maps a file extension to its resource class. Extensions that
// are not listed belong to disabled containers and are refused.
type Classifier struct {
	ext map[string]model.ResourceClass
}

func NewClassifier(light, heavy []string) *Classifier {
	c := &Classifier{ext: make(map[string]model.ResourceClass)}

	if len(light) == 0 {
		light = defaultLightExtensions
	}

	if len(heavy) == 0 {
		heavy = defaultHeavyExtensions
	}

	for _, e := range light {
		c.ext[normalizeExt(e)] = model.ClassLight
	}

	for _, e := range heavy {
		c.ext[normalizeExt(e)] = model.ClassHeavy
	}

	return c
}

func NewClassifierFromConfig(cfg *config.Config) *Classifier {
	return NewClassifier(cfg.Classes.LightExtension.Value(), cfg.Classes.HeavyExtension.Value())
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}

	return e
}

func (c *Classifier) Classify(path string) (model.ResourceClass, error) {
	ext := strings.ToLower(filepath.Ext(path))

	cl, ok := c.ext[ext]
	if !ok {
		return "", errors.Wrapf(model.ErrUnsupportedFile, "%q", filepath.Base(path))
	}

	return cl, nil
}

// Extensions lists every enabled extension in sorted order.
func (c *Classifier) Extensions() []string {
	res := make([]string, 0, len(c.ext))
	for e := range c.ext {
		res = append(res, e)
	}

	sort.Strings(res)

	return res
}

// Filter narrows the enabled extensions to the requested ones. An empty
// request keeps all of them.
func (c *Classifier) Filter(requested []string) map[string]bool {
	res := make(map[string]bool)

	if len(requested) == 0 {
		for e := range c.ext {
			res[e] = true
		}

		return res
	}

	for _, e := range requested {
		e = normalizeExt(e)
		if _, ok := c.ext[e]; ok {
			res[e] = true
		}
	}

	return res
}

package service

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/webitel/media_jobs/internal/model"
)

// walk streams every regular file under root whose extension is in exts.
// Unreadable subdirectories are skipped; only a bad root is an error.
func walk(ctx context.Context, root string, recursive bool, exts map[string]bool, fn func(path string) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(model.ErrInvalidArgument, "scan root: %v", err)
	}

	if !info.IsDir() {
		return errors.Wrapf(model.ErrInvalidArgument, "scan root %q is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == root {
				return err
			}

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if path != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() || !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		return fn(path)
	})
}

package bridge

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// searchWorkspace walks root in the background, pushing paths whose name
// contains query onto results. The walk aborts as soon as ctx is done; the
// handler derives ctx from its own HTTP request, so a walk stops when that
// request ends, and a later responseSearchWorkSpace call does not cancel it.
func searchWorkspace(ctx context.Context, root, query string) (<-chan string, <-chan error) {
	results := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(results)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			if query == "" || strings.Contains(strings.ToLower(d.Name()), strings.ToLower(query)) {
				select {
				case results <- path:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			errs <- err
			return
		}
		errs <- nil
	}()

	return results, errs
}

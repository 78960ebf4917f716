package harness

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Report is the outcome of one scenario file in a batch.
type Report struct {
	Path     string
	Scenario *Scenario
	Result   *Result
	// Err is set when the scenario could not be loaded or run.
	Err error
}

// Passed reports whether the scenario ran and every check held.
func (r Report) Passed() bool {
	return r.Err == nil && r.Result != nil && r.Result.Pass
}

// RunAll loads and runs every scenario file, at most limit at a time
// (limit <= 0 means no limit). Reports keep the order of paths.
//
// Every run owns its store, loop and registry, so scenarios never observe
// each other. The error is non-nil only when ctx ends before every scenario
// started; per-scenario failures are reported in Report.Err.
func RunAll(ctx context.Context, paths []string, limit int, opts ...Option) ([]Report, error) {
	reports := make([]Report, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				reports[i] = Report{Path: path, Err: err}
				return err
			}
			reports[i] = runPath(gctx, path, opts...)
			return nil
		})
	}
	return reports, g.Wait()
}

func runPath(ctx context.Context, path string, opts ...Option) Report {
	rep := Report{Path: path}
	scenario, err := LoadScenario(path)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Scenario = scenario
	rep.Result, rep.Err = RunContext(ctx, scenario, opts...)
	return rep
}

// Discover returns every .yaml and .yml file under root, sorted.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

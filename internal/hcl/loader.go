package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/fsutil"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct {
	environ func() []string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a loader that exposes the process environment as `env`.
func NewLoader() *Loader {
	return &Loader{environ: os.Environ}
}

// Load parses every .hcl file under paths and merges their blocks into a
// model seeded with config.Default. Each singleton block may appear in at
// most one file, and exactly one ensemble block is required.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	evalCtx := l.evalContext()
	parser := hclparse.NewParser()
	model := config.Default()
	var seen seenBlocks

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if err := seen.check(file, &root); err != nil {
			return nil, err
		}
		if err := translate(ctx, &root, evalCtx, model); err != nil {
			return nil, fmt.Errorf("in %s: %w", file, err)
		}
	}
	if seen.ensemble == "" {
		return nil, fmt.Errorf("no ensemble block found")
	}

	logger.Debug("HCL loading complete.", "ensemble", model.Ensemble.ID, "steps", len(model.Ensemble.Steps))
	return model, nil
}

// evalContext exposes the environment as an object named env.
func (l *Loader) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(name) {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	envVal := cty.EmptyObjectVal
	if len(vars) > 0 {
		envVal = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": envVal}}
}

// seenBlocks remembers which file defined each singleton block.
type seenBlocks struct {
	evaluator, ensemble, queue, monitor, tracker string
}

func (s *seenBlocks) check(file string, root *fileRoot) error {
	claim := func(block string, present bool, owner *string) error {
		if !present {
			return nil
		}
		if *owner != "" {
			return fmt.Errorf("duplicate %s block in %s, already defined in %s", block, file, *owner)
		}
		*owner = file
		return nil
	}
	if len(root.Ensembles) > 1 {
		return fmt.Errorf("%s defines %d ensemble blocks, expected one", file, len(root.Ensembles))
	}
	for _, c := range []struct {
		block   string
		present bool
		owner   *string
	}{
		{"evaluator", root.Evaluator != nil, &s.evaluator},
		{"ensemble", len(root.Ensembles) == 1, &s.ensemble},
		{"queue", root.Queue != nil, &s.queue},
		{"monitor", root.Monitor != nil, &s.monitor},
		{"tracker", root.Tracker != nil, &s.tracker},
	} {
		if err := claim(c.block, c.present, c.owner); err != nil {
			return err
		}
	}
	return nil
}

// findAllHCLFiles returns the .hcl files under every path, without
// duplicates. Paths that do not exist are skipped.
func findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	for _, path := range paths {
		files, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		for _, f := range files {
			if _, ok := seen[f]; !ok {
				allFiles = append(allFiles, f)
				seen[f] = struct{}{}
			}
		}
	}
	return allFiles, nil
}

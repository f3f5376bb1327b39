package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tessera-maps/anchorbatch/internal/batch"
)

// fixtureExecutor replays pre-rendered anchor previews from a directory
// instead of calling a real generation backend. Each anchor is expected to
// have a file named "<anchor_id>" (any extension) under dir; the file's
// contents become the anchor's preview. Anchors with no matching file fail
// every attempt, which propagates as an ordinary retry-exhausted failure.
type fixtureExecutor struct {
	dir   string
	files map[string]string
}

func newFixtureExecutor(dir string) (*fixtureExecutor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cli: read fixture dir %s: %w", dir, err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		id := name[:len(name)-len(filepath.Ext(name))]
		files[id] = filepath.Join(dir, name)
	}
	return &fixtureExecutor{dir: dir, files: files}, nil
}

// Execute implements batch.ExecuteAnchorFunc.
func (f *fixtureExecutor) Execute(ctx context.Context, anchor batch.Anchor, attempt int, variant batch.ModelVariant) (batch.ExecuteResult, error) {
	if err := ctx.Err(); err != nil {
		return batch.ExecuteResult{}, err
	}
	path, ok := f.files[anchor.ID]
	if !ok {
		return batch.ExecuteResult{}, fmt.Errorf("cli: no fixture tile for anchor %s in %s", anchor.ID, f.dir)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return batch.ExecuteResult{}, fmt.Errorf("cli: read fixture tile %s: %w", path, err)
	}
	return batch.ExecuteResult{Preview: string(content)}, nil
}

// fixtureParentRefresher cascades a fixture-backed run's leaf tiles upward by
// halving coordinates one pyramid level at a time, the same composition rule
// a real tile-server backend applies when merging four children into one
// parent tile. It never fails, since fixture runs have no external service to
// fail against.
type fixtureParentRefresher struct{}

// Refresh implements batch.RefreshParentLevelFunc.
func (fixtureParentRefresher) Refresh(ctx context.Context, req batch.ParentLevelRequest) (batch.ParentLevelResult, error) {
	if err := ctx.Err(); err != nil {
		return batch.ParentLevelResult{}, err
	}
	if req.ChildZ == 0 {
		return batch.ParentLevelResult{}, nil
	}
	seen := make(map[batch.Tile]struct{})
	parents := make([]batch.Tile, 0, len(req.ChildTiles))
	for _, t := range req.ChildTiles {
		p := batch.Tile{X: t.X / 2, Y: t.Y / 2}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		parents = append(parents, p)
	}
	return batch.ParentLevelResult{ParentTiles: parents}, nil
}

// Package report renders rollout results.
package report

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/cartridge/rollout/internal/storage"
)

// ErrNoRecords is returned when there is nothing to plot.
var ErrNoRecords = errors.New("no statistics records to plot")

// PlotRewards draws the cumulative reward of every agent against the
// simulation clock. The image format follows the file extension.
func PlotRewards(path, title string, records []storage.Record) error {
	if len(records) == 0 {
		return ErrNoRecords
	}

	agents := make(map[string]bool)
	for _, r := range records {
		for id := range r.EpisodeReward {
			agents[id] = true
		}
	}
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Simulation time (s)"
	p.Y.Label.Text = "Episode reward"

	for i, id := range ids {
		points := make(plotter.XYs, 0, len(records))
		for _, r := range records {
			v, ok := r.EpisodeReward[id]
			if !ok {
				continue
			}
			points = append(points, plotter.XY{X: float64(r.Timestamp), Y: v})
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("failed to plot rewards for %s: %w", id, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(id, line)
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

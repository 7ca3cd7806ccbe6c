package store

import (
	"context"
	"sort"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models       []ModelInfo        // A list of models in the database
	Stats        map[int]ModelStats // A mapping of model ids to their stats
	StateCount   int                // The number of unique states interned for all models
	ContextCount int                // The number of unique contexts interned for all models
}

// ModelStats holds aggregated statistics for a single stored model.
type ModelStats struct {
	TotalTransitions int // The number of unique context->next_state links.
	TotalFrequency   int // The sum of frequencies of all links; the total number of trained transitions.
	Contexts         int // The number of contexts with at least one transition.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var stateLen int
	err = s.stmtGetStateLen.QueryRowContext(ctx).Scan(&stateLen)
	if err != nil {
		return nil, err
	}

	var contextLen int
	err = s.stmtGetContextLen.QueryRowContext(ctx).Scan(&contextLen)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	modelStats := make(map[int]ModelStats)
	for _, v := range modelInfos {
		models = append(models, v)
		var stats ModelStats
		err = s.stmtModelTransitions.QueryRowContext(ctx, v.Id).Scan(&stats.TotalTransitions)
		if err != nil {
			return nil, err
		}
		err = s.stmtModelFreq.QueryRowContext(ctx, v.Id).Scan(&stats.TotalFrequency)
		if err != nil {
			return nil, err
		}
		err = s.stmtModelContexts.QueryRowContext(ctx, v.Id).Scan(&stats.Contexts)
		if err != nil {
			return nil, err
		}
		modelStats[v.Id] = stats
	}
	sortModels(models)

	return &DBStats{
		Models:       models,
		Stats:        modelStats,
		StateCount:   stateLen,
		ContextCount: contextLen,
	}, nil
}

func sortModels(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		return models[i].Name < models[j].Name
	})
}

package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
	"golang.org/x/time/rate"
)

// ChunkSize is the number of songs sent per batch analysis request.
const ChunkSize = 20

// PipelineOpts configures an [AnalysisPipeline].
type PipelineOpts struct {
	Logger *log.Logger
	// RateLimit is the maximum analyzer requests per second. Zero or less disables pacing.
	RateLimit float64
	Burst     int
	// OnBatchComplete runs after a batch in which at least one chunk succeeded.
	OnBatchComplete func(ctx context.Context)
	Progress        chan<- ProgressUpdate
}

// AnalysisPipeline turns unanalyzed songs into system tags through the remote analyzer.
type AnalysisPipeline struct {
	store    Store
	analyzer Analyzer
	limiter  *rate.Limiter
	logger   *log.Logger
	progress chan<- ProgressUpdate
	onBatch  func(ctx context.Context)
}

// NewAnalysisPipeline creates a pipeline writing results through store.
func NewAnalysisPipeline(store Store, analyzer Analyzer, opts PipelineOpts) *AnalysisPipeline {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := max(opts.Burst, 1)

	return &AnalysisPipeline{
		store:    store,
		analyzer: analyzer,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   shared.WithLogger(logger, "component", "analysis"),
		progress: opts.Progress,
		onBatch:  opts.OnBatchComplete,
	}
}

// Analyze returns the system tags for song, calling the analyzer only when it has none yet.
//
// Fresh results are saved as synced and returned as the analyzer produced them.
func (p *AnalysisPipeline) Analyze(ctx context.Context, song *models.Song) ([]models.TagInput, error) {
	if song.HasSystemTag() {
		cached := song.SystemTags()
		tags := make([]models.TagInput, 0, len(cached))
		for _, t := range cached {
			tags = append(tags, models.TagInput{Name: t.Name, Description: t.Description})
		}
		return tags, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tags, err := p.analyzer.AnalyzeOne(ctx, song)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", song.ID, err)
	}

	if err := p.store.SaveTags(ctx, song.ID, tags, models.Synced); err != nil {
		return nil, err
	}
	return tags, nil
}

// ExecuteBatch analyzes every song without system tags in sequential chunks of [ChunkSize].
//
// Cancellation is observed only between chunks; a dispatched chunk always completes and is
// persisted. onProgress receives the cumulative processed count after each successful chunk,
// or (0, 0) once when nothing needs analysis. Unauthorized failures abort immediately; other
// chunk failures are skipped and reported only when every chunk failed.
func (p *AnalysisPipeline) ExecuteBatch(ctx context.Context, songs []*models.Song, onProgress func(processed, total int)) error {
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	pending := make([]*models.Song, 0, len(songs))
	for _, song := range songs {
		if !song.HasSystemTag() {
			pending = append(pending, song)
		}
	}

	total := len(pending)
	if total == 0 {
		onProgress(0, 0)
		return nil
	}

	var (
		processed  int
		succeeded  int
		chunks     int
		firstError error
	)
	detached := context.WithoutCancel(ctx)

	for start := 0; start < total; start += ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		chunk := pending[start:min(start+ChunkSize, total)]
		chunks++

		results, err := p.analyzer.AnalyzeBatch(detached, chunk)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthorized) {
				p.logger.Error("analyzer rejected credentials", "chunk", chunks, "err", err)
				return err
			}
			p.logger.Warn("chunk failed", "chunk", chunks, "size", len(chunk), "err", err)
			if firstError == nil {
				firstError = err
			}
			continue
		}

		for _, result := range results {
			if err := p.store.SaveTags(detached, result.SongID, result.Tags, models.Synced); err != nil {
				p.logger.Warn("failed to save analysis", "id", result.SongID, "err", err)
			}
		}

		succeeded++
		processed += len(chunk)
		sendProgress(p.progress, analyzeChunkUpdate(processed, total))
		onProgress(processed, total)
	}

	if succeeded == 0 {
		return firstError
	}

	p.logger.Info("batch complete", "songs", processed, "chunks", chunks, "failed", chunks-succeeded)
	if p.onBatch != nil {
		p.onBatch(detached)
	}
	return nil
}

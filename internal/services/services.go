// package services implements HTTP transports for the tag authority and the AI analyzer
package services

import (
	"context"

	"github.com/desertthunder/vibetag/internal/models"
)

// TagSync is the contract [TagSyncService] fulfils for the sync engine.
type TagSync interface {
	FetchLibraryPage(ctx context.Context, page, limit int) ([]models.RemoteSong, error)
	PushSongUpdate(ctx context.Context, id string, update models.SongUpdate) error
}

// Analyzer is the contract [AnalyzerService] fulfils for the analysis pipeline.
type Analyzer interface {
	AnalyzeOne(ctx context.Context, song *models.Song) ([]models.TagInput, error)
	AnalyzeBatch(ctx context.Context, songs []*models.Song) ([]models.AnalysisResult, error)
}

var (
	_ TagSync  = (*TagSyncService)(nil)
	_ Analyzer = (*AnalyzerService)(nil)
)

package services

import (
	"context"

	"github.com/desertthunder/vibetag/internal/models"
)

// AnalyzeSongRequest identifies a song for the analyzer.
type AnalyzeSongRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

type analyzeSongResponse struct {
	Tags []models.TagInput `json:"tags"`
}

type analyzeBatchRequest struct {
	Songs []AnalyzeSongRequest `json:"songs"`
}

type analyzeBatchResponse struct {
	Results []models.AnalysisResult `json:"results"`
}

// AnalyzerService calls the AI tagging endpoints.
type AnalyzerService struct {
	client *APIClient
}

// NewAnalyzerService creates an [AnalyzerService] using client.
func NewAnalyzerService(client *APIClient) *AnalyzerService {
	return &AnalyzerService{client: client}
}

// AnalyzeOne returns the tags the analyzer assigns to a single song.
func (s *AnalyzerService) AnalyzeOne(ctx context.Context, song *models.Song) ([]models.TagInput, error) {
	var resp analyzeSongResponse
	if err := s.client.Post(ctx, "/analyze/song", newAnalyzeRequest(song), &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// AnalyzeBatch analyzes several songs in one request.
func (s *AnalyzerService) AnalyzeBatch(ctx context.Context, songs []*models.Song) ([]models.AnalysisResult, error) {
	req := analyzeBatchRequest{Songs: make([]AnalyzeSongRequest, 0, len(songs))}
	for _, song := range songs {
		req.Songs = append(req.Songs, newAnalyzeRequest(song))
	}

	var resp analyzeBatchResponse
	if err := s.client.Post(ctx, "/analyze/batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func newAnalyzeRequest(song *models.Song) AnalyzeSongRequest {
	return AnalyzeSongRequest{ID: song.ID, Title: song.Title, Artist: song.Artist}
}

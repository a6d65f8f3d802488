package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/urfave/cli/v3"
)

// Analyze tags songs through the AI analyzer.
//
// A single --id goes through the cached single-song path and prints the tags; --all or several
// ids run the batch pipeline, which uploads pending songs afterwards unless --no-push is set.
func (r *Runner) Analyze(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.StringSlice("id")
	all := cmd.Bool("all")
	if !all && len(ids) == 0 {
		return fmt.Errorf("%w: --all or --id", shared.ErrMissingArgument)
	}
	if all && len(ids) > 0 {
		return fmt.Errorf("%w: cannot combine --all and --id", shared.ErrInvalidArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	r.skipPush = cmd.Bool("no-push")

	if len(ids) == 1 {
		return r.analyzeOne(ctx, ids[0])
	}

	var songs []*models.Song
	if all {
		fetched, err := r.store.FetchAllSongs(ctx)
		if err != nil {
			return err
		}
		songs = fetched
	} else {
		for _, id := range ids {
			song, err := r.store.FetchSong(ctx, id)
			if err != nil {
				return err
			}
			if song == nil {
				return shared.NotFoundError("analyze", "song "+id)
			}
			songs = append(songs, song)
		}
	}

	err := r.pipeline.ExecuteBatch(ctx, songs, func(processed, total int) {
		if total == 0 {
			r.writePlain("Nothing to analyze, every song already has AI tags\n")
			return
		}
		r.writePlain("→ Analyzed %d/%d\n", processed, total)
	})
	if errors.Is(err, shared.ErrUnauthorized) {
		return fmt.Errorf("%w: sign in again with 'vibetag auth login'", err)
	}
	if err != nil {
		return err
	}
	return r.writePlain("✓ Analysis complete\n")
}

func (r *Runner) analyzeOne(ctx context.Context, id string) error {
	song, err := r.store.FetchSong(ctx, id)
	if err != nil {
		return err
	}
	if song == nil {
		return shared.NotFoundError("analyze", "song "+id)
	}

	tags, err := r.pipeline.Analyze(ctx, song)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return r.writePlain("✓ %s - %s: %s\n", song.Artist, song.Title, strings.Join(names, ", "))
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/vibetag/internal/formatter"
	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/urfave/cli/v3"
)

// SongsAdd saves a song and assigns any --tag values as user tags.
func (r *Runner) SongsAdd(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: song id", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	song := models.NewSong(id, cmd.String("title"), cmd.String("artist"))
	song.AppleMusicID = cmd.String("apple-music-id")
	song.ArtworkURL = cmd.String("artwork-url")

	if err := r.store.SaveSong(ctx, song); err != nil {
		return err
	}
	if err := r.store.SaveChanges(ctx); err != nil {
		return err
	}

	for _, name := range cmd.StringSlice("tag") {
		if err := r.store.AssignTag(ctx, id, name); err != nil {
			return err
		}
	}

	return r.writePlain("✓ Saved %s - %s\n", song.Artist, song.Title)
}

// SongsList prints every song, or only pending uploads with --pending.
func (r *Runner) SongsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	var (
		songs []*models.Song
		err   error
	)
	if cmd.Bool("pending") {
		songs, err = r.store.FetchPendingUploads(ctx)
	} else {
		songs, err = r.store.FetchAllSongs(ctx)
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(songs, cmd.Bool("pretty"))
	}

	if len(songs) == 0 {
		return r.writePlain("No songs found\n")
	}

	r.writePlainHeader(fmt.Sprintf("Songs (%d)", len(songs)))
	for _, song := range songs {
		r.writeSong(song)
	}
	return nil
}

// SongsShow prints one song.
func (r *Runner) SongsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: song id", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	song, err := r.store.FetchSong(ctx, id)
	if err != nil {
		return err
	}
	if song == nil {
		return shared.NotFoundError("songs show", "song "+id)
	}

	if cmd.Bool("json") {
		return r.writeJSON(song, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n", formatter.Styles.Title(song.Artist+" - "+song.Title))
	r.writePlain("ID:          %s\n", song.ID)
	if song.AppleMusicID != "" {
		r.writePlain("Apple Music: %s\n", song.AppleMusicID)
	}
	if song.ArtworkURL != "" {
		r.writePlain("Artwork:     %s\n", song.ArtworkURL)
	}
	r.writePlain("Status:      %s\n", song.SyncStatus)
	for _, tag := range song.Tags {
		r.writePlain("  %s %s\n", formatter.TagChip(formatter.Styles, &tag), formatter.Styles.Help(formatter.TagOrigin(&tag)))
	}
	return nil
}

// SongsRemove deletes a song from the library.
func (r *Runner) SongsRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: song id", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	song, err := r.store.FetchSong(ctx, id)
	if err != nil {
		return err
	}
	if song == nil {
		return shared.NotFoundError("songs remove", "song "+id)
	}

	if err := r.store.DeleteSong(ctx, song); err != nil {
		return err
	}
	if err := r.store.SaveChanges(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Removed %s\n", id)
}

// SongsImport reads songs from a CSV file. Tags in the file are assigned as user tags.
func (r *Runner) SongsImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: CSV path", shared.ErrMissingArgument)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	songs, err := formatter.ImportCSV(file)
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	for _, song := range songs {
		tags := song.Tags
		song.Tags = nil
		if err := r.store.SaveSong(ctx, song); err != nil {
			r.store.DiscardChanges()
			return fmt.Errorf("failed to import %s: %w", song.ID, err)
		}
		song.Tags = tags
	}
	if err := r.store.SaveChanges(ctx); err != nil {
		return err
	}

	tagged := 0
	for _, song := range songs {
		for _, tag := range song.Tags {
			if err := r.store.AssignTag(ctx, song.ID, tag.Name); err != nil {
				r.logger.Warn("failed to assign imported tag", "id", song.ID, "tag", tag.Name, "err", err)
				continue
			}
			tagged++
		}
	}

	r.logger.Info("import complete", "songs", len(songs), "tags", tagged)
	return r.writePlain("✓ Imported %d songs (%d tag assignments)\n", len(songs), tagged)
}

// SongsExport writes the library in the chosen format.
func (r *Runner) SongsExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	songs, err := r.store.FetchAllSongs(ctx)
	if err != nil {
		return err
	}
	tags, err := r.store.FetchAllTags(ctx)
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(format, songs, tags, cmd.String("output"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Exported %d songs to %s\n", len(songs), path)
}

// SongsStats prints library counts.
func (r *Runner) SongsStats(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	stats, err := r.store.Stats(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, false)
	}
	return r.writePlain("Songs: %d\nPending: %d\nTags: %d\n", stats.Songs, stats.Pending, stats.Tags)
}

func (r *Runner) writeSong(song *models.Song) {
	chips := make([]string, 0, len(song.Tags))
	for _, tag := range song.Tags {
		chips = append(chips, formatter.TagChip(formatter.Styles, &tag))
	}

	line := fmt.Sprintf("%s  %s - %s", song.ID, song.Artist, song.Title)
	if len(chips) > 0 {
		line += "  " + strings.Join(chips, " ")
	}
	if song.SyncStatus == models.PendingUpload {
		line += "  " + formatter.Styles.Warn("(pending)")
	}
	r.writePlain("%s\n", line)
}

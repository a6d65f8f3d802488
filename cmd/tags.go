package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/vibetag/internal/formatter"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/urfave/cli/v3"
)

// TagsList prints the tag catalogue.
func (r *Runner) TagsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	tags, err := r.store.FetchAllTags(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(tags, cmd.Bool("pretty"))
	}

	if len(tags) == 0 {
		return r.writePlain("No tags found\n")
	}

	r.writePlainHeader(fmt.Sprintf("Tags (%d)", len(tags)))
	for _, tag := range tags {
		line := fmt.Sprintf("%s  %s", formatter.TagChip(formatter.Styles, tag), formatter.Styles.Help(formatter.TagOrigin(tag)))
		if tag.Description != "" {
			line += "  " + tag.Description
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// TagsCreate creates a user tag, or updates an existing tag's description and color.
func (r *Runner) TagsCreate(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: tag name", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	tag, err := r.store.CreateUserTag(ctx, name, cmd.String("description"), cmd.String("color"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s\n", formatter.TagChip(formatter.Styles, tag))
}

// TagsAssign links a tag to a song and marks the song for upload.
func (r *Runner) TagsAssign(ctx context.Context, cmd *cli.Command) error {
	song, tag, err := r.songAndTag(cmd)
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.store.AssignTag(ctx, song, tag); err != nil {
		return err
	}
	return r.writePlain("✓ Tagged %s with %q\n", song, tag)
}

// TagsRemove unlinks a tag from a song and marks the song for upload.
func (r *Runner) TagsRemove(ctx context.Context, cmd *cli.Command) error {
	song, tag, err := r.songAndTag(cmd)
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.store.RemoveTag(ctx, song, tag); err != nil {
		return err
	}
	return r.writePlain("✓ Removed %q from %s\n", tag, song)
}

// TagsDelete removes a tag everywhere. Affected songs are marked for upload.
func (r *Runner) TagsDelete(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: tag name", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.store.DeleteTag(ctx, name); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted tag %q\n", name)
}

func (r *Runner) songAndTag(cmd *cli.Command) (string, string, error) {
	song, tag := cmd.StringArg("song"), cmd.StringArg("tag")
	if song == "" || tag == "" {
		return "", "", fmt.Errorf("%w: song id and tag name", shared.ErrMissingArgument)
	}
	return song, tag, nil
}

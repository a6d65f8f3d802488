// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func prettyFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "pretty",
		Usage: "Pretty-print output",
		Value: true,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file, initialize the database and run migrations",
		Commands: []*cli.Command{
			{
				Name:   "migrations",
				Usage:  "Show applied and pending migrations",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SetupMigrations,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
		Action: r.SetupDatabase,
	}
}

// songsCommand handles local library operations
func songsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "songs",
		Usage: "Manage songs in the local library",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add or update a song",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "title",
						Usage:    "Song title",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "artist",
						Usage:    "Song artist",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "apple-music-id",
						Usage: "Apple Music catalog ID",
					},
					&cli.StringFlag{
						Name:  "artwork-url",
						Usage: "Artwork image URL",
					},
					&cli.StringSliceFlag{
						Name:    "tag",
						Aliases: []string{"t"},
						Usage:   "User tag to assign (repeatable)",
					},
				},
				Action: r.SongsAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List songs and their tags",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "Only songs waiting to be uploaded",
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.SongsList,
			},
			{
				Name:  "show",
				Usage: "Show a single song",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{jsonFlag(), prettyFlag()},
				Action: r.SongsShow,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm"},
				Usage:   "Remove a song from the library",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.SongsRemove,
			},
			{
				Name:  "import",
				Usage: "Import songs from a CSV file (columns: ID, Title, Artist, AppleMusicID, ArtworkURL, Tags)",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Action: r.SongsImport,
			},
			{
				Name:  "export",
				Usage: "Export the library",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv, json, md, txt)",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
					},
				},
				Action: r.SongsExport,
			},
			{
				Name:   "stats",
				Usage:  "Show library counts",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SongsStats,
			},
		},
	}
}

// tagsCommand handles tag operations
func tagsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "Manage tags",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List all tags",
				Flags:   []cli.Flag{jsonFlag(), prettyFlag()},
				Action:  r.TagsList,
			},
			{
				Name:  "create",
				Usage: "Create a user tag",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "description",
						Aliases: []string{"d"},
						Usage:   "Tag description",
					},
					&cli.StringFlag{
						Name:  "color",
						Usage: "Hex color, e.g. #FF9500",
					},
				},
				Action: r.TagsCreate,
			},
			{
				Name:  "assign",
				Usage: "Assign a tag to a song",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "song"},
					&cli.StringArg{Name: "tag"},
				},
				Action: r.TagsAssign,
			},
			{
				Name:  "remove",
				Usage: "Remove a tag from a song",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "song"},
					&cli.StringArg{Name: "tag"},
				},
				Action: r.TagsRemove,
			},
			{
				Name:  "delete",
				Usage: "Delete a tag from every song",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.TagsDelete,
			},
		},
	}
}

// analyzeCommand runs AI analysis
func analyzeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Tag songs with the AI analyzer",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Analyze every song without AI tags",
			},
			&cli.StringSliceFlag{
				Name:  "id",
				Usage: "Song ID to analyze (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "no-push",
				Usage: "Skip uploading pending songs after a batch",
			},
		},
		Action: r.Analyze,
	}
}

// syncCommand handles one-shot synchronization
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize tags with the remote library",
		Commands: []*cli.Command{
			{
				Name:   "pull",
				Usage:  "Download remote tags into the local library",
				Action: r.SyncPull,
			},
			{
				Name:   "push",
				Usage:  "Upload songs with pending local changes",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SyncPush,
			},
			{
				Name:   "run",
				Usage:  "Pull then push",
				Action: r.SyncRun,
			},
			{
				Name:   "status",
				Usage:  "Show sync state and library counts",
				Flags:  []cli.Flag{jsonFlag(), prettyFlag()},
				Action: r.SyncStatus,
			},
		},
	}
}

// watchCommand runs the background sync loop
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep the library in sync, re-syncing when connectivity returns",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-server",
				Usage: "Do not start the local status server",
			},
		},
		Action: r.Watch,
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in through the browser",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: defaultLoginTimeout,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show session and connectivity state",
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Sign out and clear all tags from the local library",
				Action: r.AuthLogout,
			},
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"memobox/internal/attach"
	"memobox/internal/config"
	"memobox/internal/errors"
	"memobox/internal/ops"
	"memobox/internal/session"
	"memobox/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(repo *ops.Repo, sess *session.Session, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "memobox",
		Usage:   "Memory capsule canvas",
		Version: Version,
		Commands: []*cli.Command{
			newCmd(repo),
			listCmd(repo),
			showCmd(repo),
			sendCmd(sess, cfg),
			sealCmd(repo, sess),
			titleCmd(repo),
			moveCmd(repo),
			settingsCmd(repo),
			probeCmd(sess),
			serveCmd(repo, sess, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// newCmd creates the new command.
func newCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Create a memory capsule on the canvas",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "x", Usage: "Canvas x position"},
			&cli.Float64Flag{Name: "y", Usage: "Canvas y position"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Initial title (defaults to the placeholder)"},
		},
		Action: func(c *cli.Context) error {
			out, err := repo.Create(c.Float64("x"), c.Float64("y"), c.String("title"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// listCmd creates the list command.
func listCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List capsules in render order (most-recently-touched last)",
		Action: func(c *cli.Context) error {
			return outputJSON(map[string]any{"capsules": repo.Ordered()})
		},
	}
}

// showCmd creates the show command.
func showCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one capsule with its full conversation history",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "touch", Usage: "Bring the capsule to the front"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("capsule id is required"))
			}
			if c.Bool("touch") {
				if err := repo.Touch(id); err != nil {
					return outputError(err)
				}
			}
			out, err := repo.Get(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// sendCmd creates the send command. Ctrl-C while waiting aborts the agent
// call and the send finalizes as stopped.
func sendCmd(sess *session.Session, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message in a capsule's conversation (reads text from stdin when piped)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Message text"},
			&cli.StringSliceFlag{Name: "image", Aliases: []string{"i"}, Usage: "Image file path to attach (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("capsule id is required"))
			}

			text := c.String("text")
			if text == "" && stdinHasData() {
				piped, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				text = piped
			}

			images, err := encodeImageFiles(cfg, c.StringSlice("image"))
			if err != nil {
				return outputError(err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out, err := sess.Send(ctx, id, text, images)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// sealCmd creates the seal command.
func sealCmd(repo *ops.Repo, sess *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "seal",
		Usage:     "Toggle a capsule's seal (sealing locks history and title)",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("capsule id is required"))
			}
			if sess.Sending() {
				return outputError(errors.NewInvalidRequest("cannot toggle seal while a send is in flight"))
			}
			out, err := repo.ToggleSeal(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// titleCmd creates the title command.
func titleCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:      "title",
		Usage:     "Rename a capsule (rejected while sealed)",
		ArgsUsage: "<id> <title>",
		Action: func(c *cli.Context) error {
			id := c.Args().Get(0)
			if id == "" {
				return outputError(errors.NewInvalidRequest("capsule id is required"))
			}
			if err := repo.SetTitle(id, c.Args().Get(1)); err != nil {
				return outputError(err)
			}
			out, err := repo.Get(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// moveCmd creates the move command.
func moveCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "Update a capsule's canvas position (allowed while sealed)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "x", Required: true, Usage: "Canvas x position"},
			&cli.Float64Flag{Name: "y", Required: true, Usage: "Canvas y position"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("capsule id is required"))
			}
			if err := repo.Move(id, c.Float64("x"), c.Float64("y")); err != nil {
				return outputError(err)
			}
			out, err := repo.Get(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// settingsCmd creates the settings command with get/set subcommands.
func settingsCmd(repo *ops.Repo) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Inspect or change persisted settings",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the current settings",
				Action: func(c *cli.Context) error {
					out, err := repo.Settings()
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:  "set",
				Usage: "Update settings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent-url", Usage: "Agent proxy URL (empty restores the default)"},
				},
				Action: func(c *cli.Context) error {
					cur, err := repo.Settings()
					if err != nil {
						return outputError(err)
					}
					if c.IsSet("agent-url") {
						cur.AgentProxyURL = c.String("agent-url")
					}
					out, err := repo.SaveSettings(cur)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// probeCmd creates the probe command.
func probeCmd(sess *session.Session) *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Check the configured agent endpoint (health first, then a trivial chat)",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			health, err := sess.Probe(ctx)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"health": health,
				"status": sess.Status(),
			})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(repo *ops.Repo, sess *session.Session, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP canvas API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8790, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(repo, sess, cfg, Version, c.String("bind"), c.Int("port"))
			fmt.Fprintf(os.Stderr, "memobox %s listening on %s\n", Version, srv.Addr)
			if err := web.Run(srv); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// Helper functions

// encodeImageFiles runs local image files through the attachment pipeline.
func encodeImageFiles(cfg *config.Config, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	pipeline := attach.New(cfg)
	files := make([]attach.File, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.NewInvalidRequest("cannot read image: " + err.Error())
		}
		files = append(files, attach.File{Name: p, Data: data})
	}
	if err := pipeline.Add(files...); err != nil {
		return nil, err
	}
	return pipeline.Take(), nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if boxErr, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", boxErr.Code, boxErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

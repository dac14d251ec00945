package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"subjectfix/internal/config"
	"subjectfix/internal/logging"
	"subjectfix/internal/offline"
	"subjectfix/internal/subject"
)

func main() {
	app := cli.NewApp()
	app.Name = "subjectfix"
	app.Usage = "strip tags such as [EXTERN] from message subjects"
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "pattern",
			Aliases: []string{"p"},
			Usage:   "Subject `REGEXP` to remove, may be repeated (default: configured patterns)",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Report what would change without writing anything",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "eml",
			Usage:     "Rewrite a single message file",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "Write to `PATH` instead of stdout",
				},
				&cli.BoolFlag{
					Name:  "in-place",
					Usage: "Replace FILE with the rewritten message",
				},
			},
			Action: emlCommand,
		},
		{
			Name:      "mbox",
			Usage:     "Rewrite every message in an mbox file",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "Write the rewritten mbox to `PATH` instead of stdout",
				},
			},
			Action: mboxCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRewriter(ctx *cli.Context) (*offline.Rewriter, error) {
	patterns := ctx.StringSlice("pattern")
	if len(patterns) == 0 {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		patterns = cfg.SubjectPatterns
	}
	matcher, err := subject.NewMatcher(patterns)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(ctx.String("log-level"), "console")
	if err != nil {
		return nil, err
	}

	dryRun := ctx.Bool("dry-run")
	return &offline.Rewriter{
		Matcher: matcher,
		DryRun:  dryRun,
		Log:     logger,
		OnChange: func(c offline.Change) {
			if dryRun {
				fmt.Fprintf(ctx.App.Writer, "%d: %q -> %q\n", c.Index, c.Before, c.After)
			}
		},
	}, nil
}

func emlCommand(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("Error: FILE is required", 2)
	}
	if ctx.Bool("in-place") && ctx.IsSet("output") {
		return cli.Exit("Error: --in-place and --output are mutually exclusive", 2)
	}

	rw, err := newRewriter(ctx)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, change, err := rw.Message(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if change == nil {
		rw.Log.Info("subject left unchanged", zap.String("file", path))
	} else {
		change.Index = 1
		rw.OnChange(*change)
	}
	if rw.DryRun {
		return nil
	}

	switch {
	case ctx.Bool("in-place"):
		if change == nil {
			return nil
		}
		return writeFileAtomic(path, out)
	case ctx.IsSet("output"):
		return writeFileAtomic(ctx.String("output"), out)
	default:
		_, err = ctx.App.Writer.Write(out)
		return err
	}
}

func mboxCommand(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("Error: FILE is required", 2)
	}

	rw, err := newRewriter(ctx)
	if err != nil {
		return err
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var w io.Writer = ctx.App.Writer
	var tmp *os.File
	if out := ctx.String("output"); out != "" && !rw.DryRun {
		tmp, err = os.CreateTemp(filepath.Dir(out), ".subjectfix-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()
		w = tmp
	}
	if rw.DryRun {
		w = io.Discard
	}

	res, err := rw.Mbox(in, w)
	if err != nil {
		return err
	}
	if tmp != nil {
		if err := tmp.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmp.Name(), ctx.String("output")); err != nil {
			return err
		}
	}

	fmt.Fprintf(ctx.App.ErrWriter, "%d messages, %d rewritten, %d unchanged, %d failed\n",
		res.Messages, res.Rewritten, res.Skipped, res.Failed)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".subjectfix-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

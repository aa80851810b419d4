// Command trialmatch-cli runs matches against a local corpus without the HTTP
// server, and pre-fills the embedding cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/app"
	"github.com/kailas-cloud/trialmatch/internal/config"
	"github.com/kailas-cloud/trialmatch/internal/db"
	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	logpkg "github.com/kailas-cloud/trialmatch/internal/logger"
	"github.com/kailas-cloud/trialmatch/internal/repository/trialsource"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
	"github.com/kailas-cloud/trialmatch/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runner carries the configuration resolved in Before to the command actions.
type runner struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
}

func newApp() *cli.App {
	r := &runner{}
	return &cli.App{
		Name:    "trialmatch-cli",
		Usage:   "Match patient descriptions against a clinical trial corpus",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Configuration environment (reads config/<env>.yaml)",
				Value:   "local",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:    "corpus",
				Aliases: []string{"c"},
				Usage:   "Trial export to load (.csv or .json), overrides corpus.path",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Embedding backend (onnx, openai, hashing), overrides embedding.backend",
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "Embedding cache driver (none, badger, valkey, redis), overrides cache.driver",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: r.setup,
		After:  r.teardown,
		Commands: []*cli.Command{
			{
				Name:   "match",
				Usage:  "Rank trials for a patient description",
				Action: r.matchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Patient description",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of trials to return (0 uses match.default_top_k)",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum cosine similarity on the embedding path (defaults to match.similarity_threshold)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the response as JSON",
					},
				},
			},
			{
				Name:   "detail",
				Usage:  "Print one trial by NCT id",
				Action: r.detailCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "NCT identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Summarize the corpus",
				Action: r.statsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of conditions and countries to list",
						Value: matchuc.DefaultStatsLimit,
					},
				},
			},
			{
				Name:   "warm",
				Usage:  "Embed the whole corpus into the embedding cache",
				Action: r.warmCommand,
			},
		},
	}
}

func (r *runner) setup(c *cli.Context) error {
	r.env = c.String("env")

	cfg, err := config.Load(r.env)
	if err != nil {
		return err
	}
	if v := c.String("corpus"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := c.String("backend"); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := c.String("cache"); v != "" {
		cfg.Cache.Driver = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	r.cfg = cfg

	logger, err := logpkg.NewLogger(r.env, c.String("log-level"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	r.logger = logger
	return nil
}

func (r *runner) teardown(*cli.Context) error {
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	return nil
}

// session is a matcher with its index built, plus the resources to release.
type session struct {
	matcher *matchuc.Service
	index   *matchuc.Index
	store   db.Store
}

func (s *session) close(ctx context.Context) {
	_ = s.matcher.Shutdown(ctx)
	if s.store != nil {
		s.store.Close()
	}
}

func (r *runner) open(ctx context.Context) (*session, error) {
	store, err := app.OpenCache(ctx, r.cfg.Cache, r.logger)
	if err != nil {
		return nil, err
	}
	provider, err := app.NewProvider(r.cfg, store, r.logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	s := &session{matcher: app.NewMatcher(r.cfg, provider, r.logger), store: store}

	ix, err := app.BuildIndex(ctx, s.matcher, r.cfg.Corpus.Path, r.logger)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.index = ix
	return s, nil
}

func (r *runner) matchCommand(c *cli.Context) error {
	ctx := c.Context

	var threshold *float64
	if c.IsSet("threshold") {
		t := c.Float64("threshold")
		threshold = &t
	}

	s, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	resp, err := s.matcher.FindMatches(ctx, c.String("query"), c.Int("top-k"), threshold)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, resp)
	}
	printMatches(c.App.Writer, resp)
	return nil
}

// detailCommand reads the corpus directly; no embedding is needed to look up
// a record.
func (r *runner) detailCommand(c *cli.Context) error {
	res, err := trialsource.Load(r.cfg.Corpus.Path)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.String("id"))
	for i := range res.Records {
		if res.Records[i].ID == id {
			return writeJSON(c.App.Writer, res.Records[i])
		}
	}
	return fmt.Errorf("trial %q not found in %s", id, r.cfg.Corpus.Path)
}

func (r *runner) statsCommand(c *cli.Context) error {
	ctx := c.Context

	// Stats never embeds; the hashing backend keeps the build cheap.
	r.cfg.Embedding.Backend = config.BackendHashing
	r.cfg.Embedding.Dimensions = 0
	r.cfg.Cache.Driver = config.CacheNone

	s, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	stats, err := s.matcher.Stats(c.Int("limit"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, stats)
}

func (r *runner) warmCommand(c *cli.Context) error {
	ctx := c.Context
	if r.cfg.Cache.Driver == config.CacheNone {
		return errors.New("cache driver is none, nothing to warm (set cache.driver or --cache)")
	}

	s, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if !s.index.HasVectors() {
		return fmt.Errorf("corpus of %d trials was not embedded, see the log for the backend error", s.index.Len())
	}
	fmt.Fprintf(c.App.Writer, "Embedded %d of %d trials into the %s cache (index %s)\n",
		s.index.Embedded(), s.index.Len(), r.cfg.Cache.Driver, s.index.ID)
	return nil
}

func printMatches(w io.Writer, resp dommatch.Response) {
	fmt.Fprintf(w, "Found %d trials (%s)\n", resp.TotalFound, resp.Method)
	for i, m := range resp.Matches {
		fmt.Fprintf(w, "%2d. %s  %.3f  %s\n", i+1, m.ID, m.Similarity, trial.Value(m.Title))
		var meta []string
		for _, f := range []struct {
			label string
			value *string
		}{
			{"Condition", m.Condition},
			{"Phase", m.Phase},
			{"Status", m.Status},
			{"Country", m.Country},
		} {
			if f.value != nil {
				meta = append(meta, f.label+": "+*f.value)
			}
		}
		if len(meta) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(meta, " | "))
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/elonfeng/openchain/internal/cache"
	"github.com/elonfeng/openchain/internal/config"
	"github.com/elonfeng/openchain/internal/scheduler"
	"github.com/elonfeng/openchain/pkg/explain"
	"github.com/elonfeng/openchain/pkg/pool"
	"github.com/elonfeng/openchain/pkg/rank"
	"github.com/elonfeng/openchain/pkg/recommend"
	"github.com/elonfeng/openchain/pkg/server"
	"github.com/elonfeng/openchain/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func buildClient(cfg *config.Config, log *slog.Logger) (*source.Client, error) {
	if err := cfg.ValidateTokens(); err != nil {
		return nil, err
	}
	creds, err := source.NewCredentialPool(cfg.ValidTokens(), cfg.GitHub.RPS, cfg.GitHub.Burst)
	if err != nil {
		return nil, fmt.Errorf("build credential pool: %w", err)
	}

	c := cache.New(cfg.Cache.Capacity, cfg.Cache.ParseTTL())
	return source.NewClient(creds, c, source.Options{
		BaseURL:       cfg.GitHub.BaseURL,
		OpenDiggerURL: cfg.Sources.OpenDiggerURL,
		TrendingFeed:  cfg.Sources.TrendingFeed,
		Timeout:       cfg.GitHub.ParseTimeout(),
		MaxAttempts:   cfg.GitHub.MaxAttempts,
		Backoff:       cfg.GitHub.ParseBackoff(),
		PerPage:       cfg.GitHub.PerPage,
		Filter:        source.NewFilter(cfg.GitHub.Exclude),
		Logger:        log,
	}), nil
}

// newRand returns a seeded generator when seed is set, so repeated runs
// give identical graphs.
func newRand(seed uint64, stream uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, stream))
}

func buildEngine(cfg *config.Config, client *source.Client, log *slog.Logger) *recommend.Engine {
	pools := pool.NewBuilder(client, pool.Options{
		FallbackUsers: cfg.Recommend.FallbackUsers,
		FallbackRepos: cfg.Recommend.FallbackRepos,
		Rand:          newRand(cfg.Recommend.Seed, 1),
		Logger:        log,
	})
	ranker := rank.NewRanker(newRand(cfg.Recommend.Seed, 2))
	return recommend.NewEngine(client, pools, ranker, recommend.Options{
		Workers: cfg.Recommend.Workers,
		Logger:  log,
	})
}

func buildExplainer(cfg *config.Config) *explain.Explainer {
	e := explain.NewExplainer(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if e.Enabled() {
		fmt.Fprintf(os.Stderr, "llm explainer: %s\n", e.Provider())
	}
	return e
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	log := buildLogger(cfg)
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}
	engine := buildEngine(cfg, client, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(client.Cache(), client,
		cfg.Schedule.ParseSweepInterval(),
		cfg.Schedule.ParseWarmInterval(),
		log,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(engine, server.Options{
		Port:      port,
		Explainer: buildExplainer(cfg),
		Health:    server.Health{Credentials: client.Credentials(), Cache: client.Cache()},
		Logger:    log,
	})
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe(ctx)
}

func runRecommend(kind, name, find string, count int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}

	graph, err := buildEngine(cfg, client, log).Recommend(context.Background(), recommend.Request{
		Type: kind, Name: name, Find: find, Count: count,
	})
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}

	if jsonOutput {
		return printJSON(graph)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSIMILARITY\tSCALE\tLEVEL\tID")
	for _, n := range graph.Nodes {
		fmt.Fprintf(w, "%s\t%.3f\t%.1f\t%v\t%s\n",
			n.NodeType, n.Similarity, n.Scale, n.Metrics["level"], n.ID)
	}
	return w.Flush()
}

func runScale(kind, name string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	k, err := source.ParseKind(kind)
	if err != nil {
		return err
	}
	log := buildLogger(cfg)
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}

	res, err := buildEngine(cfg, client, log).Scale(context.Background(), k, name)
	if err != nil {
		return fmt.Errorf("scale: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("%s %s: %.2f (%s)\n", res.Kind, res.ID, res.Scale, res.Level)
	if res.Newcomer {
		fmt.Println("newcomer: no public repositories")
	}
	return nil
}

func runExplain(topic, mode string) error {
	if topic == "" {
		topics := explain.Topics()
		names := make([]string, 0, len(topics))
		for t := range topics {
			names = append(names, t)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tMODES")
		for _, t := range names {
			fmt.Fprintf(w, "%s\t%s\n", t, strings.Join(topics[t], ", "))
		}
		return w.Flush()
	}

	text, err := explain.Algorithm(topic, mode)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runRelate(kind, name, find, target string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	explainer := buildExplainer(cfg)
	if !explainer.Enabled() {
		return fmt.Errorf("%w: set OPENAI_API_KEY or ANTHROPIC_API_KEY", explain.ErrDisabled)
	}
	log := buildLogger(cfg)
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rel, err := buildEngine(cfg, client, log).Relate(ctx, recommend.RelationshipRequest{
		Type: kind, Name: name, Find: find, Target: target,
	})
	if err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	text, err := explainer.Relationship(ctx, rel)
	if err != nil {
		return err
	}

	fmt.Printf("similarity %.3f, scale %.1f -> %.1f\n\n%s\n", rel.Similarity, rel.SubjectScale, rel.TargetScale, text)
	return nil
}

func runAnalyze(kind, name string, count int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}

	a, err := buildEngine(cfg, client, log).Analyze(context.Background(), recommend.AnalyzeRequest{
		Type: kind, Name: name, Count: count,
	})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if jsonOutput {
		return printJSON(a)
	}

	keys := make([]string, 0, len(a.Stats))
	for k := range a.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, a.Stats[k])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINK\tSIMILARITY\tSCALE\tID")
	for _, l := range a.Links {
		id := l.Target
		if id == a.Center.ID {
			id = l.Source
		}
		fmt.Fprintf(w, "%s\t%.3f\t%.1f\t%s\n", l.Type, l.Value, scaleOf(a.Nodes, id), id)
	}
	return w.Flush()
}

func scaleOf(nodes []rank.Node, id string) float64 {
	for _, n := range nodes {
		if n.ID == id {
			return n.Scale
		}
	}
	return 0
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package main provides the vexgraph CLI, a thin demo harness over
// pkg/vexgraph's public API (open/add/find/similar/stats/export/import).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vexgraph/vexgraph/pkg/config"
	"github.com/vexgraph/vexgraph/pkg/embed"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/vexgraph"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vexgraph",
		Short: "vexgraph - embeddable hybrid vector+graph database",
		Long: `vexgraph stores typed entities (nouns) with vector embeddings and
metadata, links them with typed relationships (verbs), and answers
hybrid vector/metadata/graph queries fused into a single ranked result
set.`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "storage root for the badger-backed database")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vexgraph v%s (%s)\n", version, commit)
		},
	})

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "add a noun, embedding --text if no --vector is given",
		RunE:  runAdd,
	}
	addCmd.Flags().String("id", "", "explicit id (generated if omitted)")
	addCmd.Flags().String("text", "", "text to embed")
	addCmd.Flags().String("type", string(model.NounThing), "noun type")
	addCmd.Flags().String("service", "", "service tag for statistics partitioning")
	addCmd.Flags().String("metadata", "", "metadata as a JSON object")
	rootCmd.AddCommand(addCmd)

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "fetch a noun by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	rootCmd.AddCommand(getCmd)

	relateCmd := &cobra.Command{
		Use:   "relate [from] [to] [type]",
		Short: "create a typed edge between two existing nouns",
		Args:  cobra.ExactArgs(3),
		RunE:  runRelate,
	}
	rootCmd.AddCommand(relateCmd)

	findCmd := &cobra.Command{
		Use:   "find [text]",
		Short: "run a hybrid query and print fused results",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}
	findCmd.Flags().Int("limit", 10, "maximum results")
	findCmd.Flags().Bool("explain", false, "include the query plan and per-arm timing")
	rootCmd.AddCommand(findCmd)

	similarCmd := &cobra.Command{
		Use:   "similar [id]",
		Short: "find nouns nearest an existing noun's vector",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimilar,
	}
	similarCmd.Flags().Int("limit", 10, "maximum results")
	similarCmd.Flags().Bool("include-self", false, "include the source noun in the results")
	rootCmd.AddCommand(similarCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "print live counters and a type breakdown",
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "dump every noun and verb to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	rootCmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "load nouns and verbs from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(cmd *cobra.Command) (*vexgraph.DB, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	backend, err := storage.NewBadgerStore(filepath.Join(dataDir, "badger"))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	cfg := config.DefaultConfig()
	cfg.WALDir = filepath.Join(dataDir, "wal")

	lg, _ := zap.NewDevelopment()
	return vexgraph.Open(context.Background(), vexgraph.Options{
		Backend:  backend,
		Config:   cfg,
		Embedder: embed.NewDeterministic(),
		Logger:   lg,
		HNSWDir:  filepath.Join(dataDir, "hnsw"),
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	id, _ := cmd.Flags().GetString("id")
	text, _ := cmd.Flags().GetString("text")
	typ, _ := cmd.Flags().GetString("type")
	service, _ := cmd.Flags().GetString("service")
	metaJSON, _ := cmd.Flags().GetString("metadata")

	var metadata model.Metadata
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			return fmt.Errorf("parsing --metadata: %w", err)
		}
	}

	got, err := db.Add(cmd.Context(), vexgraph.AddRequest{
		ID:       id,
		Text:     text,
		Type:     model.NounType(typ),
		Metadata: metadata,
		Service:  service,
	})
	if err != nil {
		return err
	}
	fmt.Println(got)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	n, err := db.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if n == nil {
		fmt.Println("not found")
		return nil
	}
	return printJSON(n)
}

func runRelate(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	id, err := db.Relate(cmd.Context(), vexgraph.RelateRequest{
		From: args[0],
		To:   args[1],
		Type: model.VerbType(args[2]),
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	limit, _ := cmd.Flags().GetInt("limit")
	explain, _ := cmd.Flags().GetBool("explain")

	resp, err := db.Find(cmd.Context(), vexgraph.FindRequest{
		Query:   args[0],
		Limit:   limit,
		Explain: explain,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	limit, _ := cmd.Flags().GetInt("limit")
	includeSelf, _ := cmd.Flags().GetBool("include-self")

	resp, err := db.Similar(cmd.Context(), vexgraph.SimilarRequest{
		To:          args[0],
		Limit:       limit,
		IncludeSelf: includeSelf,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	snap, err := db.GetStatistics(cmd.Context(), vexgraph.StatisticsRequest{})
	if err != nil {
		return err
	}
	insights, err := db.Insights(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"services": snap, "insights": insights})
}

func runExport(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	b, err := db.ExportJSON(cmd.Context())
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", args[0], err)
	}
	fmt.Printf("exported to %s\n", args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close(cmd.Context())

	b, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	if err := db.ImportJSON(cmd.Context(), b); err != nil {
		return err
	}
	fmt.Printf("imported from %s\n", args[0])
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

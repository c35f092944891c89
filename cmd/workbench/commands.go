package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/workbench/internal/config"
	"github.com/kalambet/workbench/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a PDF, web page or YouTube video to the knowledge base",
	Long: `Add a source to the knowledge base.

URLs are queued on the running server. Files are ingested directly against the
configured stores, so the server does not need to be running.

Examples:
  workbench ingest --url https://go.dev/blog/slog
  workbench ingest --url https://www.youtube.com/watch?v=dQw4w9WgXcQ --permanent
  workbench ingest --file ./paper.pdf --title "Attention paper"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		permanent, _ := cmd.Flags().GetBool("permanent")

		switch {
		case rawURL == "" && file == "":
			return fmt.Errorf("one of --url or --file is required")
		case rawURL != "" && file != "":
			return fmt.Errorf("--url and --file are mutually exclusive")
		}

		if file != "" {
			printStep("Ingesting %s", file)
			res, err := ingestFile(cmd.Context(), file, title, permanent)
			if err != nil {
				return err
			}
			printSuccess("Ingested %s: %d chunks (%s)", res.Origin, res.Chunks, lifetime(res))
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/ingest", map[string]any{
			"url":       rawURL,
			"permanent": permanent,
			"title":     title,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["id"])
		return nil
	},
}

// ingestFile runs the ingestion pipeline in-process for a local PDF.
var ingestFile = func(ctx context.Context, path, title string, permanent bool) (ingest.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return ingest.Result{}, err
	}
	setupLogging(cfg.Log.Level)

	f, err := os.Open(path)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ingest.Result{}, fmt.Errorf("reading file info: %w", err)
	}

	a, err := newApp(ctx, cfg, io.Discard)
	if err != nil {
		return ingest.Result{}, err
	}
	defer a.Close()

	return a.pipeline.Ingest(ctx, ingest.Request{
		Origin:    filepath.Base(path),
		Title:     title,
		Permanent: permanent,
		File:      f,
		Size:      info.Size(),
	})
}

func lifetime(res ingest.Result) string {
	if res.Permanent || res.ExpiresAt == nil {
		return "permanent"
	}
	return "expires " + res.ExpiresAt.Local().Format(time.Kitchen)
}

func init() {
	ingestCmd.Flags().String("url", "", "https web page or YouTube video to ingest")
	ingestCmd.Flags().String("file", "", "PDF file to ingest")
	ingestCmd.Flags().String("title", "", "title for the source")
	ingestCmd.Flags().Bool("permanent", false, "keep the source until deleted instead of expiring it")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/ask", map[string]any{
			"question": question,
			"top_k":    topK,
		})
		if err != nil {
			return err
		}

		var ans struct {
			Answer  string `json:"answer"`
			Model   string `json:"model"`
			Sources []struct {
				Title      string  `json:"title"`
				Origin     string  `json:"origin"`
				SourceType string  `json:"source_type"`
				Score      float32 `json:"score"`
			} `json:"sources"`
		}
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ans.Answer)
		if len(ans.Sources) > 0 {
			printHeading(out, "Sources")
			for i, s := range ans.Sources {
				fmt.Fprintf(out, "  %d. %s %s\n", i+1, sourceName(s.Title, s.Origin), dim(fmt.Sprintf("(%s, %.2f)", s.SourceType, s.Score)))
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 0, "number of chunks to retrieve (server default when 0)")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/recall?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			SourceID   string  `json:"source_id"`
			SourceType string  `json:"source_type"`
			Title      string  `json:"title"`
			Origin     string  `json:"origin"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Fprintf(out, "\n%s [score: %.3f] %s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score, sourceName(r.Title, r.Origin))
			fmt.Fprintf(out, "  %s\n", truncate(r.Text, snippetLen))
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List or delete knowledge base sources",
}

type sourceRow struct {
	SourceID   string     `json:"source_id"`
	SourceType string     `json:"source_type"`
	Origin     string     `json:"origin"`
	Title      string     `json:"title"`
	Permanent  bool       `json:"permanent"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Chunks     int        `json:"chunks"`
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/sources")
		if err != nil {
			return err
		}

		var sources []sourceRow
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sources)
		}
		if len(sources) == 0 {
			fmt.Fprintln(out, "The knowledge base is empty.")
			return nil
		}
		for _, s := range sources {
			keep := "permanent"
			if !s.Permanent && s.ExpiresAt != nil {
				keep = "until " + s.ExpiresAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(out, "%s  %-6s %4d chunks  %-22s %s\n",
				colorize(colorCyan, shortID(s.SourceID)),
				s.SourceType,
				s.Chunks,
				keep,
				truncate(sourceName(s.Title, s.Origin), 60),
			)
		}
		return nil
	},
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <source-id>",
	Short: "Delete every chunk of a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/sources/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			Chunks int `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s (%d chunks)", args[0], result.Chunks)
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	sourcesListCmd.Flags().Bool("json", false, "print sources as JSON")
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired temporary sources now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/sweep", nil)
		if err != nil {
			return err
		}

		var rep struct {
			Expired    int      `json:"expired"`
			Deleted    int      `json:"deleted"`
			Failed     int      `json:"failed"`
			Errors     []string `json:"errors"`
			PurgedJobs int      `json:"purged_jobs"`
		}
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}

		for _, e := range rep.Errors {
			printError("%s", e)
		}
		if rep.Failed > 0 {
			printWarning("Removed %d of %d expired sources (%d chunks)", rep.Expired-rep.Failed, rep.Expired, rep.Deleted)
			return nil
		}
		printSuccess("Removed %d expired sources (%d chunks)", rep.Expired, rep.Deleted)
		if rep.PurgedJobs > 0 {
			printStatus("Finished jobs purged", "%d", rep.PurgedJobs)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, dim("("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

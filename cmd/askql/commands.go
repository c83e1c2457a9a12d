package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/askql/internal/api"
	"github.com/kalambet/askql/internal/app"
	"github.com/kalambet/askql/internal/config"
	"github.com/kalambet/askql/internal/corpus"
	"github.com/kalambet/askql/internal/ingest"
	"github.com/kalambet/askql/internal/loader"
	"github.com/kalambet/askql/internal/retrieval"
	"github.com/kalambet/askql/internal/sqlexec"
	"github.com/kalambet/askql/internal/sqlgen"
)

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Add training data",
	Long: `Add training data to the vector store.

Examples:
  askql train --ddl "CREATE TABLE users (id INT, name TEXT)"
  askql train --question "How many users?" --sql "SELECT COUNT(*) FROM users"
  askql train --file ./schema.sql --kind ddl
  askql train --file ./handbook.md
  askql train --file ./pairs.json --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := trainingRequests(cmd)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			printWarning("Nothing to train")
			return nil
		}
		printStep("Training %d item(s)...", len(reqs))

		local, _ := cmd.Flags().GetBool("local")
		var (
			resp   *api.TrainResponse
			counts map[corpus.Corpus]int
		)
		if local {
			resp, counts, err = trainLocal(cmd.Context(), reqs)
			if err != nil {
				return err
			}
		} else {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err = submitTraining(cmd.Context(), c, reqs)
			if err != nil {
				return err
			}
			counts, err = remoteCounts(cmd.Context(), c)
			if err != nil {
				printWarning("Could not read training data summary: %v", err)
			}
		}

		for i, r := range resp.Results {
			if r.Error != "" {
				printError("item %d: %s", i+1, r.Error)
			} else if r.Question != "" && reqs[i].Question == "" {
				printStatus("Derived question", "%s", r.Question)
			}
		}
		if resp.Rejected > 0 {
			printWarning("Accepted %d, rejected %d", resp.Accepted, resp.Rejected)
		} else {
			printSuccess("Accepted %d item(s)", resp.Accepted)
		}
		if counts != nil {
			printStatus("Training data", "%s", trainingSummary(counts))
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().String("file", "", "training file to load")
	trainCmd.Flags().String("kind", "", "file layout: ddl, sql, doc, markdown, pairs, json, pdf, html (default: detect)")
	trainCmd.Flags().String("question", "", "natural-language question (requires --sql)")
	trainCmd.Flags().String("sql", "", "SQL statement")
	trainCmd.Flags().String("ddl", "", "DDL statement")
	trainCmd.Flags().String("doc", "", "documentation text")
	trainCmd.Flags().Bool("local", false, "write directly to the store instead of a running server")
}

// trainingRequests builds the submissions from --file or the inline flags.
func trainingRequests(cmd *cobra.Command) ([]ingest.Request, error) {
	file, _ := cmd.Flags().GetString("file")
	kindName, _ := cmd.Flags().GetString("kind")
	question, _ := cmd.Flags().GetString("question")
	sql, _ := cmd.Flags().GetString("sql")
	ddl, _ := cmd.Flags().GetString("ddl")
	doc, _ := cmd.Flags().GetString("doc")

	if file != "" {
		kind, err := loader.ParseKind(kindName)
		if err != nil {
			return nil, err
		}
		return loader.LoadFile(file, kind)
	}

	r := ingest.Request{Question: question, SQL: sql, DDL: ddl, Documentation: doc}
	if r == (ingest.Request{}) {
		return nil, fmt.Errorf("one of --file, --sql, --ddl, or --doc is required")
	}
	if question != "" && sql == "" {
		return nil, corpus.ErrMissingSQL
	}
	return []ingest.Request{r}, nil
}

func submitTraining(ctx context.Context, c *apiClient, reqs []ingest.Request) (*api.TrainResponse, error) {
	resp, err := c.post(ctx, "/train?flush=true", reqs)
	if err != nil {
		return nil, err
	}
	var out api.TrainResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// trainLocal writes reqs through a local app and reads the per-corpus counts
// once every batch has been stored.
func trainLocal(ctx context.Context, reqs []ingest.Request) (*api.TrainResponse, map[corpus.Corpus]int, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, setupLogging(cfg))
	if err != nil {
		return nil, nil, err
	}
	defer a.Close()

	resp := trainWith(ctx, a.Trainer, reqs)
	a.Processor.Shutdown()

	rows, err := a.Store.GetTrainingData(ctx)
	if err != nil {
		printWarning("Could not read training data summary: %v", err)
		return resp, nil, nil
	}
	return resp, countByCorpus(rows), nil
}

// remoteCounts reads the per-corpus record counts from a running server.
func remoteCounts(ctx context.Context, c *apiClient) (map[corpus.Corpus]int, error) {
	rows, err := listTrainingData(ctx, c)
	if err != nil {
		return nil, err
	}
	return countByCorpus(rows), nil
}

func trainingSummary(counts map[corpus.Corpus]int) string {
	return fmt.Sprintf("%d sql, %d ddl, %d documentation",
		counts[corpus.SQL], counts[corpus.DDL], counts[corpus.Documentation])
}

type trainer interface {
	Train(ctx context.Context, r ingest.Request) (string, error)
	Flush()
}

func trainWith(ctx context.Context, t trainer, reqs []ingest.Request) *api.TrainResponse {
	out := &api.TrainResponse{Results: make([]api.TrainResult, len(reqs))}
	for i, r := range reqs {
		q, err := t.Train(ctx, r)
		if err != nil {
			out.Rejected++
			out.Results[i] = api.TrainResult{Error: err.Error()}
			continue
		}
		out.Accepted++
		out.Results[i] = api.TrainResult{Question: q}
	}
	t.Flush()
	return out
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "List or remove training data",
}

var dataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("corpus")
		asJSON, _ := cmd.Flags().GetBool("json")

		var want corpus.Corpus
		if filter != "" {
			c, err := corpus.Parse(filter)
			if err != nil {
				return err
			}
			want = c
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		rows, err := listTrainingData(cmd.Context(), c)
		if err != nil {
			return err
		}
		if want != "" {
			kept := rows[:0]
			for _, r := range rows {
				if r.Corpus == want {
					kept = append(kept, r)
				}
			}
			rows = kept
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		if len(rows) == 0 {
			fmt.Println("No training data found.")
			return nil
		}
		writeTrainingRows(os.Stdout, rows)
		return nil
	},
}

var dataRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove one training record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := removeTrainingData(cmd.Context(), c, args[0]); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

var dataResetCmd = &cobra.Command{
	Use:   "reset <collection>",
	Short: "Empty a collection (sql, ddl, or documentation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete every record in %s. Use --confirm to proceed.", args[0])
			return nil
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		removed, err := resetCollection(cmd.Context(), c, args[0])
		if err != nil {
			return err
		}
		if removed {
			printSuccess("Collection %s reset", args[0])
		} else {
			printWarning("Collection %s was not reset", args[0])
		}
		return nil
	},
}

func init() {
	dataListCmd.Flags().String("corpus", "", "only list one corpus: sql, ddl, or documentation")
	dataListCmd.Flags().Bool("json", false, "print JSON")
	dataResetCmd.Flags().Bool("confirm", false, "confirm collection reset")
	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataRemoveCmd)
	dataCmd.AddCommand(dataResetCmd)
}

func listTrainingData(ctx context.Context, c *apiClient) ([]retrieval.TrainingRow, error) {
	resp, err := c.get(ctx, "/training-data")
	if err != nil {
		return nil, err
	}
	var rows []retrieval.TrainingRow
	if err := decodeJSON(resp, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func removeTrainingData(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.delete(ctx, "/training-data/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

func resetCollection(ctx context.Context, c *apiClient, name string) (bool, error) {
	resp, err := c.delete(ctx, "/collections/"+url.PathEscape(name))
	if err != nil {
		return false, err
	}
	var out struct {
		Removed bool `json:"removed"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return false, err
	}
	return out.Removed, nil
}

func countByCorpus(rows []retrieval.TrainingRow) map[corpus.Corpus]int {
	counts := make(map[corpus.Corpus]int, 3)
	for _, r := range rows {
		counts[r.Corpus]++
	}
	return counts
}

func writeTrainingRows(w io.Writer, rows []retrieval.TrainingRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tQUESTION\tCONTENT")
	for _, r := range rows {
		q := ""
		if r.Question != nil {
			q = truncate(*r.Question, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", colorize(colorCyan, r.ID), r.Corpus, q, truncate(r.Content, 60))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Generate SQL for a question and run it when a database is configured",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		sqlOnly, _ := cmd.Flags().GetBool("sql-only")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		ans, err := askQuestion(cmd.Context(), c, question, sqlOnly)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ans)
		}
		if ans.SQL == "" {
			printWarning("The model did not return a SQL statement")
			fmt.Println(ans.Raw)
			return nil
		}
		fmt.Println(colorize(colorBold, ans.SQL))
		if ans.Result != nil {
			fmt.Println()
			writeResult(os.Stdout, ans.Result)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("sql-only", false, "generate SQL without running it")
	askCmd.Flags().Bool("json", false, "print JSON")
}

func askQuestion(ctx context.Context, c *apiClient, question string, sqlOnly bool) (*sqlgen.Answer, error) {
	path := "/ask"
	if sqlOnly {
		path = "/generate-sql"
	}
	resp, err := c.post(ctx, path, map[string]string{"question": question})
	if err != nil {
		return nil, err
	}
	var ans sqlgen.Answer
	if err := decodeJSON(resp, &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

func writeResult(w io.Writer, res *sqlexec.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	if res.Truncated {
		fmt.Fprintf(w, "(showing first %d rows)\n", len(res.Rows))
	} else {
		fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.Validate(); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.FilePath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a bearer token for the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Printf("export ASKQL_SERVER_API_TOKEN=%s\n", token)
		return nil
	},
}

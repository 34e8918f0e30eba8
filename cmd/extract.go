package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costar-cli/internal/export"
	"github.com/sells-group/costar-cli/internal/extract"
	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/query"
)

var extractCmd = &cobra.Command{
	Use:   "extract <payload-file>...",
	Short: "Extract owner contacts for one or more search payload files",
	Long: `Runs the find-sellers extraction. Each payload file holds one search
payload or a list of them, as JSON or YAML. By default every payload is
extracted as one query with a shared email dedup set and property cap;
--separate runs each file as its own named query over one session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		ctx := cmd.Context()

		queries, err := loadQueries(cmd, args)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		sessions, err := initSession(st)
		if err != nil {
			return err
		}
		defer sessions.Close() //nolint:errcheck

		outDir, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		sink, err := export.NewFileSink(outDir, format)
		if err != nil {
			return err
		}

		facadeOpts := []query.FacadeOption{
			query.WithClientOptions(clientOptions(cfg)...),
			query.WithSink(sink),
		}
		if st != nil {
			facadeOpts = append(facadeOpts, query.WithRunStore(st))
		}
		f := query.New(sessions, facadeOpts...)

		separate, _ := cmd.Flags().GetBool("separate")
		var results []query.SellerResult
		if separate {
			results, err = f.RunBatch(ctx, queries)
		} else {
			opts := queries[0].Options
			opts.Name = mergedName(cmd, queries)
			var res *query.SellerResult
			res, err = f.Run(ctx, mergeQueries(queries), opts)
			if res != nil {
				results = append(results, *res)
			}
		}

		formatResults(os.Stdout, results, sink)
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		for _, r := range results {
			if r.Err != nil {
				return eris.Errorf("extract: %d of %d queries failed", countFailed(results), len(results))
			}
		}
		return nil
	},
}

// loadQueries reads every payload file into a named query carrying the
// command's extraction options.
func loadQueries(cmd *cobra.Command, paths []string) ([]query.SellerQuery, error) {
	name, _ := cmd.Flags().GetString("name")
	maxProps, _ := cmd.Flags().GetInt("max-properties")
	if !cmd.Flags().Changed("max-properties") {
		maxProps = cfg.Extract.MaxProperties
	}

	opts := extractOptions(cfg)
	if cmd.Flags().Changed("include-parcel") {
		opts.IncludeParcel, _ = cmd.Flags().GetBool("include-parcel")
	}
	if cmd.Flags().Changed("require-phone") {
		opts.RequirePhone, _ = cmd.Flags().GetBool("require-phone")
	}
	if cmd.Flags().Changed("require-email") {
		opts.RequireEmail, _ = cmd.Flags().GetBool("require-email")
	}
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	opts.OnProgress = func(p extract.Progress) {
		fmt.Fprintf(os.Stderr, "processed %d/%d properties, %d contacts\n", p.Processed, p.Found, p.Contacts)
	}

	queries := make([]query.SellerQuery, 0, len(paths))
	for _, path := range paths {
		payloads, err := query.LoadPayloads(path)
		if err != nil {
			return nil, err
		}
		qname := queryName(path)
		if name != "" && len(paths) == 1 {
			qname = name
		}
		queries = append(queries, query.SellerQuery{
			Name:     qname,
			Payloads: payloads,
			Options:  query.Options{Name: qname, MaxProperties: maxProps, Extract: opts},
		})
	}
	return queries, nil
}

// mergeQueries flattens every query's payloads into one list.
func mergeQueries(queries []query.SellerQuery) []model.SearchPayload {
	var out []model.SearchPayload
	for _, q := range queries {
		out = append(out, q.Payloads...)
	}
	return out
}

// mergedName names a combined query: the --name flag, else the single
// file's name, else the default.
func mergedName(cmd *cobra.Command, queries []query.SellerQuery) string {
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		return name
	}
	if len(queries) == 1 {
		return queries[0].Name
	}
	return "find-sellers"
}

func queryName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func countFailed(results []query.SellerResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// formatResults writes a per-query summary table to w.
func formatResults(out io.Writer, results []query.SellerResult, sink *export.FileSink) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUERY\tFOUND\tPROCESSED\tCONTACTS\tFAILURES\tDURATION\tOUTPUT")
	for _, r := range results {
		output := ""
		switch {
		case r.Err != nil:
			output = "error: " + r.Err.Error()
		case sink != nil:
			output = sink.Path(r.Name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Name,
			r.PropertiesFound,
			r.PropertiesProcessed,
			len(r.Records),
			len(r.Failures),
			r.Duration.Round(time.Millisecond),
			output,
		)
	}
	_ = w.Flush()
}

func addExtractFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "query name used for the output file and run record")
	cmd.Flags().Int("max-properties", 0, "cap on properties attempted across all payloads (0 = no cap)")
	cmd.Flags().String("out", "output", "directory for result files")
	cmd.Flags().String("format", export.FormatCSV, "output format (csv, json, xlsx)")
	cmd.Flags().Bool("include-parcel", false, "attach parcel sale and loan details")
	cmd.Flags().Bool("require-email", true, "keep only contacts with a valid email")
	cmd.Flags().Bool("require-phone", false, "keep only contacts with a phone")
	cmd.Flags().Int("concurrency", 0, "in-flight property extractions (default from config)")
	cmd.Flags().Bool("separate", false, "run each payload file as its own query")
}

func init() {
	addExtractFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}


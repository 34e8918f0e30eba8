package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/query"
	"github.com/sells-group/costar-cli/pkg/costar"
)

var searchCmd = &cobra.Command{
	Use:   "search <payload-file>",
	Short: "Run a property search and list the matching properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		ctx := cmd.Context()

		payloads, err := query.LoadPayloads(args[0])
		if err != nil {
			return err
		}

		client, closeFn, err := initClient(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		maxPages, _ := cmd.Flags().GetInt("max-pages")
		if !cmd.Flags().Changed("max-pages") {
			maxPages = cfg.Client.MaxPages
		}

		var stubs []model.PropertyStub
		for _, p := range payloads {
			found, err := client.SearchProperties(ctx, p, maxPages)
			stubs = append(stubs, found...)
			if err != nil {
				return eris.Wrap(err, "search")
			}
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stubs)
		}
		formatStubs(os.Stdout, stubs)
		return nil
	},
}

var propertyCmd = &cobra.Command{
	Use:   "property <property-id>",
	Short: "Fetch a property's true owner and contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("property"); err != nil {
			return err
		}
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return eris.Errorf("invalid property id %q", args[0])
		}

		client, closeFn, err := initClient(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		detail, err := client.PropertyDetail(ctx, id)
		if err != nil {
			return eris.Wrap(err, "property detail")
		}

		out := map[string]any{"detail": detail}
		if withParcel, _ := cmd.Flags().GetBool("parcel"); withParcel {
			pins, err := client.ParcelPINs(ctx, id)
			if err != nil {
				return eris.Wrap(err, "parcel pins")
			}
			out["parcel_pins"] = pins
			if len(pins) > 0 {
				parcel, err := client.ParcelDetail(ctx, pins[0])
				if err != nil {
					return eris.Wrap(err, "parcel detail")
				}
				out["parcel"] = parcel
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// initClient acquires a session and wraps it in an API client. The
// returned func closes the browser.
func initClient(cmd *cobra.Command) (*costar.Client, func(), error) {
	sessions, err := initSession(nil)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = sessions.Close() }

	t, err := sessions.Acquire(cmd.Context())
	if err != nil {
		closeFn()
		return nil, nil, eris.Wrap(err, "acquire session")
	}
	return costar.NewClient(t, clientOptions(cfg)...), closeFn, nil
}

// formatStubs writes a tabular list of search results to w.
func formatStubs(out io.Writer, stubs []model.PropertyStub) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROPERTY_ID\tADDRESS\tCITY\tSTATE\tTYPE")
	for _, s := range stubs {
		d := s.Descriptive()
		id := ""
		if s.HasID() {
			id = strconv.FormatInt(s.ID, 10)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, d.Address, d.City, d.State, d.PropertyType)
	}
	_, _ = fmt.Fprintf(w, "\n%d properties\n", len(stubs))
	_ = w.Flush()
}

func init() {
	searchCmd.Flags().Int("max-pages", 0, "maximum search pages per payload (default from config)")
	searchCmd.Flags().Bool("json", false, "print raw results as JSON")
	propertyCmd.Flags().Bool("parcel", false, "include parcel pins and the first parcel's details")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(propertyCmd)
}

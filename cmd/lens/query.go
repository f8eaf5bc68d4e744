package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/client"
	"github.com/nicktill/tinylens/pkg/config"
)

const defaultWindow = 7 * 24 * time.Hour

// formFlags are the aggregation parameters shared by the query commands.
type formFlags struct {
	index       string
	term        string
	interval    string
	numeric     string
	timestamp   string
	start       string
	end         string
	filterField string
	filterValue string
}

func (f *formFlags) register(cmd *cobra.Command) {
	f.registerRange(cmd)
	fs := cmd.Flags()
	fs.StringVarP(&f.term, "term", "t", "", "Term field to split series by")
	fs.StringVar(&f.interval, "interval", config.AutoInterval, "Bucket interval, e.g. 1h, 1d or auto")
	fs.StringVarP(&f.numeric, "numeric", "n", "", "Numeric field to average")
	fs.StringVar(&f.timestamp, "timestamp", "timestamp", "Date field the range applies to")
	fs.StringVar(&f.filterField, "filter-field", "", "Restrict to documents where this field...")
	fs.StringVar(&f.filterValue, "filter-value", "", "...equals this value")
}

func (f *formFlags) registerRange(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.index, "index", "i", "", "Index to query")
	fs.StringVar(&f.start, "start", "", "Range start (RFC3339, default end minus 7 days)")
	fs.StringVar(&f.end, "end", "", "Range end (RFC3339, default now)")
}

// timeRange parses --start and --end, defaulting to the last week.
func (f *formFlags) timeRange() (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if f.end != "" {
		t, err := time.Parse(time.RFC3339, f.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		end = t
	}
	start := end.Add(-defaultWindow)
	if f.start != "" {
		t, err := time.Parse(time.RFC3339, f.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--start %s is after --end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// params builds resolved aggregation parameters.
func (f *formFlags) params() (aggregate.Params, error) {
	start, end, err := f.timeRange()
	if err != nil {
		return aggregate.Params{}, err
	}
	p := aggregate.Params{
		Index:        f.index,
		Term:         f.term,
		Interval:     aggregate.ResolveInterval(f.interval, start, end),
		NumericField: f.numeric,
		Timestamp:    f.timestamp,
		StartDate:    start,
		EndDate:      end,
		FilterField:  f.filterField,
		FilterValue:  f.filterValue,
	}
	var missing []string
	if p.Index == "" {
		missing = append(missing, "--index")
	}
	if p.Term == "" {
		missing = append(missing, "--term")
	}
	if p.NumericField == "" {
		missing = append(missing, "--numeric")
	}
	if len(missing) > 0 {
		return p, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return p, nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetBorder(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("  ")
	t.SetHeaderLine(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

var indicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "List the indices of the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := api.Indices(cmd.Context())
		if err != nil {
			return err
		}
		for _, idx := range list {
			fmt.Fprintln(cmd.OutOrStdout(), idx)
		}
		return nil
	},
}

var mappingCmd = &cobra.Command{
	Use:   "mapping INDEX",
	Short: "Show the date, term and numeric fields of an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := api.Mapping(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		t := newTable(cmd.OutOrStdout(), "KIND", "FIELDS")
		t.Append([]string{"date", strings.Join(m.DateFields, ", ")})
		t.Append([]string{"term", strings.Join(m.TermFields, ", ")})
		t.Append([]string{"numeric", strings.Join(m.NumericFields, ", ")})
		t.Render()
		return nil
	},
}

var aggFlags formFlags

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run a time-bucketed terms aggregation",
	Example: `  lens aggregate -i orders -t status -n amount --interval 1d
  lens aggregate -i orders -t status -n amount --filter-field region --filter-value eu`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := aggFlags.params()
		if err != nil {
			return err
		}
		res, err := api.Aggregate(cmd.Context(), p)
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout(), "BUCKET", "TERM", "COUNT", "AVG "+p.NumericField)
		for _, b := range res.Buckets {
			cats := append([]aggregate.Category(nil), b.Categories...)
			sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
			label := b.Timestamp.UTC().Format(time.RFC3339)
			if len(cats) == 0 {
				t.Append([]string{label, "-", "0", "-"})
				continue
			}
			for _, c := range cats {
				t.Append([]string{label, c.Name, strconv.FormatInt(c.Count, 10), strconv.FormatFloat(c.AvgValue, 'f', 2, 64)})
				label = ""
			}
		}
		t.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d buckets at %s, %d series\n", len(res.Buckets), p.Interval, len(aggregate.UniqueTerms(res.Buckets)))
		return nil
	},
}

var valuesFlags formFlags

var valuesCmd = &cobra.Command{
	Use:   "values FIELD PREFIX",
	Short: "Autocomplete values of a term field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if valuesFlags.index == "" {
			return fmt.Errorf("--index is required")
		}
		start, end, err := valuesFlags.timeRange()
		if err != nil {
			return err
		}
		vals, err := api.SearchValues(cmd.Context(), valuesFlags.index, args[0], args[1], start, end)
		if err != nil {
			return err
		}
		for _, v := range vals {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var (
	renderFlags  formFlags
	renderOut    string
	renderWidth  int
	renderHeight int
	renderDPR    float64
	renderHidden []string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render an aggregation with its annotations to a PNG file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := renderFlags.params()
		if err != nil {
			return err
		}
		req := client.RenderRequest{
			Params: p,
			Width:  renderWidth,
			Height: renderHeight,
			DPR:    renderDPR,
			Hidden: renderHidden,
		}
		return writeFile(renderOut, func(w io.Writer) error {
			return api.Render(cmd.Context(), req, w)
		})
	},
}

// writeFile streams into path and removes it again when fn fails. "-"
// writes to stdout.
func writeFile(path string, fn func(w io.Writer) error) error {
	if path == "-" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func init() {
	aggFlags.register(aggregateCmd)

	valuesFlags.registerRange(valuesCmd)

	renderFlags.register(renderCmd)
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "chart.png", "Output file, - for stdout")
	renderCmd.Flags().IntVar(&renderWidth, "width", 1200, "Canvas width in CSS pixels")
	renderCmd.Flags().IntVar(&renderHeight, "height", 400, "Canvas height in CSS pixels")
	renderCmd.Flags().Float64Var(&renderDPR, "dpr", 1, "Device pixel ratio")
	renderCmd.Flags().StringSliceVar(&renderHidden, "hide", nil, "Series to leave out")
}

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicktill/tinylens/pkg/annotation"
)

var annotationsCmd = &cobra.Command{
	Use:     "annotations",
	Aliases: []string{"ann"},
	Short:   "List, create and review annotations",
}

var (
	annListFlags formFlags
	annQuery     string
	annLimit     int
)

var annListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotations overlapping a time range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := annListFlags.timeRange()
		if err != nil {
			return err
		}
		list, err := api.SearchAnnotations(cmd.Context(), annotation.SearchRequest{
			StartDate:   start,
			EndDate:     end,
			SourceIndex: annListFlags.index,
			FilterField: annListFlags.filterField,
			FilterValue: annListFlags.filterValue,
			Query:       annQuery,
			Limit:       annLimit,
		})
		if err != nil {
			return err
		}
		printAnnotations(cmd.OutOrStdout(), list, "")
		return nil
	},
}

func printAnnotations(w io.Writer, list []annotation.Annotation, selectedID string) {
	t := newTable(w, "", "#", "ID", "TYPE", "STATUS", "START", "END", "INDEX", "DESCRIPTION")
	for i, a := range list {
		mark := ""
		if a.ID == selectedID {
			mark = ">"
		}
		t.Append([]string{
			mark,
			strconv.Itoa(i + 1),
			a.ID,
			string(a.AnnotationType),
			statusLabel(a.Status),
			a.StartDate.UTC().Format(time.RFC3339),
			a.EndDate.UTC().Format(time.RFC3339),
			scopeLabel(a),
			truncate(a.Description, 48),
		})
	}
	t.Render()
}

func statusLabel(s annotation.Status) string {
	switch s {
	case annotation.StatusApproved:
		return color.GreenString(string(s))
	case annotation.StatusRejected:
		return color.RedString(string(s))
	case annotation.StatusDeleted:
		return color.HiBlackString(string(s))
	}
	return color.YellowString(string(s))
}

func scopeLabel(a annotation.Annotation) string {
	if a.FilterField == "" {
		return a.SourceIndex
	}
	return fmt.Sprintf("%s %s=%s", a.SourceIndex, a.FilterField, a.FilterValue)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var (
	annCreateFlags formFlags
	annCreate      annotationFlags
)

// annotationFlags are the editable fields of an annotation.
type annotationFlags struct {
	kind           string
	indicator      string
	recommendation string
	description    string
	user           string
}

func (f *annotationFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.kind, "type", string(annotation.TypeEvent), "Annotation type (incident, maintenance, deployment, event, other)")
	fs.StringVar(&f.indicator, "indicator", "", "Indicator (critical, warning, info, success)")
	fs.StringVar(&f.recommendation, "recommendation", "", "Recommendation (investigate, monitor, ignore, escalate)")
	fs.StringVarP(&f.description, "description", "d", "", "Free text description")
	fs.StringVar(&f.user, "user", os.Getenv("USER"), "Email or name recorded as the author")
}

func (f *annotationFlags) draft() annotation.Annotation {
	return annotation.Annotation{
		AnnotationType: annotation.Type(f.kind),
		Indicator:      annotation.Indicator(f.indicator),
		Recommendation: annotation.Recommendation(f.recommendation),
		Description:    f.description,
	}
}

func (f *annotationFlags) author() annotation.User {
	return annotation.User{UserID: f.user}
}

var annCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Annotate a time range of an index",
	Example: `  lens annotations create -i orders --start 2024-03-01T10:00:00Z --end 2024-03-01T12:00:00Z \
    --type incident --indicator critical -d "payment provider outage"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if annCreateFlags.index == "" {
			return fmt.Errorf("--index is required")
		}
		if annCreateFlags.start == "" || annCreateFlags.end == "" {
			return fmt.Errorf("--start and --end are required")
		}
		start, end, err := annCreateFlags.timeRange()
		if err != nil {
			return err
		}
		a := annCreate.draft()
		a.StartDate, a.EndDate = start, end
		a.SourceIndex = annCreateFlags.index
		a.FilterField, a.FilterValue = annCreateFlags.filterField, annCreateFlags.filterValue
		a.CreatedBy = annCreate.author()

		created, err := api.CreateAnnotation(cmd.Context(), a)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), created.ID)
		return nil
	},
}

var reviewUser string

func reviewCmd(use, short string, status annotation.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := annotation.UpdateRequest{
				ActionType: annotation.ActionUpdate,
				Payload:    &annotation.Patch{Status: &status},
				ChangedBy:  annotation.User{UserID: reviewUser},
			}
			if status == annotation.StatusDeleted {
				req = annotation.UpdateRequest{ActionType: annotation.ActionDelete, ChangedBy: req.ChangedBy}
			}
			if _, err := api.UpdateAnnotation(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], statusLabel(status))
			return nil
		},
	}
}

var (
	exportFormat string
	exportOut    string
	exportStart  string
	exportEnd    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download annotations as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var start, end time.Time
		var err error
		if exportStart != "" {
			if start, err = time.Parse(time.RFC3339, exportStart); err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
		}
		if exportEnd != "" {
			if end, err = time.Parse(time.RFC3339, exportEnd); err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
		}
		out := exportOut
		if out == "" {
			out = "annotations." + exportFormat
		}
		return writeFile(out, func(w io.Writer) error {
			return api.Export(cmd.Context(), exportFormat, start, end, w)
		})
	},
}

func init() {
	annListFlags.registerRange(annListCmd)
	annListCmd.Flags().StringVar(&annListFlags.filterField, "filter-field", "", "Only annotations of this filter field")
	annListCmd.Flags().StringVar(&annListFlags.filterValue, "filter-value", "", "Only annotations of this filter value")
	annListCmd.Flags().StringVarP(&annQuery, "query", "q", "", "Free text search over descriptions")
	annListCmd.Flags().IntVar(&annLimit, "limit", 100, "Maximum annotations to list")

	annCreateFlags.registerRange(annCreateCmd)
	annCreateCmd.Flags().StringVar(&annCreateFlags.filterField, "filter-field", "", "Scope to documents where this field...")
	annCreateCmd.Flags().StringVar(&annCreateFlags.filterValue, "filter-value", "", "...equals this value")
	annCreate.register(annCreateCmd)

	annotationsCmd.PersistentFlags().StringVar(&reviewUser, "reviewer", os.Getenv("USER"), "Name recorded in the change history")
	annotationsCmd.AddCommand(annListCmd)
	annotationsCmd.AddCommand(annCreateCmd)
	annotationsCmd.AddCommand(reviewCmd("approve", "Approve an annotation", annotation.StatusApproved))
	annotationsCmd.AddCommand(reviewCmd("reject", "Reject an annotation", annotation.StatusRejected))
	annotationsCmd.AddCommand(reviewCmd("delete", "Soft-delete an annotation", annotation.StatusDeleted))

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "json or csv")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file, - for stdout (default annotations.<format>)")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "Range start (RFC3339, default end minus 30 days)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "Range end (RFC3339, default now)")
}

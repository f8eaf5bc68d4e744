package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/brush"
	"github.com/nicktill/tinylens/pkg/chart"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/explorer"
	"github.com/nicktill/tinylens/pkg/storage/badger"
)

var (
	exploreStateDir string
	exploreUser     string
	exploreWidth    int
	exploreHeight   int
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Interactive explorer session",
	Long: `Opens an explorer session against the server. The form, series colors
and annotation colors are kept in --state-dir between runs. Type "help"
for the command list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		local, err := badger.New(badger.Config{
			Path:        exploreStateDir,
			InMemory:    exploreStateDir == "",
			MaxMemoryMB: 16,
		})
		if err != nil {
			return fmt.Errorf("failed to open local state: %w", err)
		}
		defer local.Close()

		sess, err := explorer.NewSession(ctx, api, local.KV(), explorer.SessionOptions{
			User:     annotation.User{UserID: exploreUser},
			PageSize: config.SidebarPageSize,
		}, log)
		if err != nil {
			return err
		}

		r := &repl{
			sess:   sess,
			out:    cmd.OutOrStdout(),
			width:  float64(exploreWidth),
			height: float64(exploreHeight),
		}
		return r.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	exploreCmd.Flags().StringVar(&exploreStateDir, "state-dir", "", "Directory for saved explorer state (empty keeps it in memory)")
	exploreCmd.Flags().StringVar(&exploreUser, "user", os.Getenv("USER"), "Name recorded on annotations and reviews")
	exploreCmd.Flags().IntVar(&exploreWidth, "width", 1200, "Chart width used for brush coordinates and renders")
	exploreCmd.Flags().IntVar(&exploreHeight, "height", 400, "Chart height")
}

var errQuit = errors.New("quit")

type repl struct {
	sess          *explorer.Session
	out           io.Writer
	width, height float64
}

const exploreHelp = `form:      index NAME | term FIELD | numeric FIELD | timestamp FIELD | interval I
           filter FIELD VALUE | filter | range START END | submit | reset
view:      show | zoom in|out | pan STEP back|fwd | full | hide SERIES
brush:     mode zoom|annotation|disabled | brush X0 X1 | save TYPE [TEXT...] | cancel | at X
sidebar:   list | select N | next | prev | page next|prev | history
review:    approve REF | reject REF | delete REF | describe REF TEXT...
           (REF is an id or a number from "list")
output:    render FILE.png | size W H
           quit`

func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	r.prompt()
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 {
			err := r.exec(ctx, fields[0], fields[1:])
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				color.New(color.FgRed).Fprintf(r.out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		r.prompt()
	}
	return sc.Err()
}

func (r *repl) prompt() {
	f := r.sess.Orchestrator().State()
	label := f.SelectedIndex
	if label == "" {
		label = "-"
	}
	if f.FilterField != "" {
		label += " " + f.FilterField + "=" + f.FilterValue
	}
	fmt.Fprintf(r.out, "%s> ", color.CyanString(label))
}

func (r *repl) exec(ctx context.Context, name string, args []string) error {
	orch := r.sess.Orchestrator()

	switch name {
	case "help", "?":
		fmt.Fprintln(r.out, exploreHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit

	case "index", "term", "numeric", "timestamp", "interval":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s VALUE", name)
		}
		v := args[0]
		orch.Update(ctx, func(f *explorer.FormState) {
			switch name {
			case "index":
				f.SelectedIndex = v
			case "term":
				f.Term = v
			case "numeric":
				f.NumericField = v
			case "timestamp":
				f.Timestamp = v
			case "interval":
				f.Interval = v
			}
		})
		return nil
	case "filter":
		switch len(args) {
		case 0:
			orch.Update(ctx, func(f *explorer.FormState) { f.FilterField, f.FilterValue = "", "" })
		case 2:
			orch.Update(ctx, func(f *explorer.FormState) { f.FilterField, f.FilterValue = args[0], args[1] })
		default:
			return errors.New("usage: filter FIELD VALUE, or filter to clear")
		}
		return nil
	case "range":
		if len(args) != 2 {
			return errors.New("usage: range START END (RFC3339)")
		}
		start, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return err
		}
		end, err := time.Parse(time.RFC3339, args[1])
		if err != nil {
			return err
		}
		return r.after(r.sess.SetRange(ctx, start, end))
	case "submit":
		return r.after(r.sess.Submit(ctx))
	case "reset":
		return orch.ResetSavedSettings(ctx)

	case "show":
		r.show()
		return nil
	case "zoom":
		if len(args) != 1 {
			return errors.New("usage: zoom in|out")
		}
		switch args[0] {
		case "in":
			return r.after(r.sess.ZoomIn(ctx))
		case "out":
			return r.after(r.sess.ZoomOut(ctx))
		}
		return errors.New("usage: zoom in|out")
	case "pan":
		if len(args) != 2 || (args[1] != "back" && args[1] != "fwd") {
			return errors.New("usage: pan STEP back|fwd")
		}
		return r.after(r.sess.Pan(ctx, args[0], args[1] == "fwd"))
	case "full":
		return r.after(r.sess.ZoomToFullHistory(ctx))
	case "hide":
		if len(args) != 1 {
			return errors.New("usage: hide SERIES")
		}
		if r.sess.ToggleSeries(args[0]) {
			fmt.Fprintf(r.out, "%s hidden\n", args[0])
		} else {
			fmt.Fprintf(r.out, "%s shown\n", args[0])
		}
		return nil

	case "mode":
		if len(args) != 1 {
			return errors.New("usage: mode zoom|annotation|disabled")
		}
		m, err := brush.ParseMode(args[0])
		if err != nil {
			return err
		}
		r.sess.SetBrushMode(m)
		return nil
	case "brush":
		if len(args) != 2 {
			return errors.New("usage: brush X0 X1")
		}
		x0, x1, err := parsePair(args[0], args[1])
		if err != nil {
			return err
		}
		if err := r.frame(); err != nil {
			return err
		}
		sel, err := r.sess.BrushEnd(x0, x1)
		if err != nil {
			return err
		}
		if r.sess.Brush().Mode() == brush.ModeAnnotation && !sel.Empty() {
			fmt.Fprintf(r.out, "selected %s .. %s, \"save TYPE TEXT\" to annotate\n",
				sel.StartDate.UTC().Format(time.RFC3339), sel.EndDate.UTC().Format(time.RFC3339))
			return nil
		}
		return r.after(nil)
	case "save":
		if len(args) < 1 {
			return errors.New("usage: save TYPE [TEXT...]")
		}
		created, err := r.sess.CreateFromBrush(ctx, annotation.Annotation{
			AnnotationType: annotation.Type(args[0]),
			Description:    strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "created %s\n", created.ID)
		return nil
	case "cancel":
		r.sess.CancelAnnotation()
		return nil
	case "at":
		if len(args) != 1 {
			return errors.New("usage: at X")
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		if err := r.frame(); err != nil {
			return err
		}
		a, ok := r.sess.AnnotationAt(x)
		if !ok {
			fmt.Fprintln(r.out, "no annotation there")
			return nil
		}
		printAnnotations(r.out, []annotation.Annotation{a}, "")
		return nil

	case "list":
		r.list()
		return nil
	case "select":
		if len(args) != 1 {
			return errors.New("usage: select N")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return r.navigated(r.sess.SelectAnnotation(n - 1))
	case "next":
		return r.navigated(r.sess.NextAnnotation())
	case "prev":
		return r.navigated(r.sess.PrevAnnotation())
	case "page":
		ok := false
		if len(args) == 1 && args[0] == "next" {
			ok = r.sess.NextPage()
		} else if len(args) == 1 && args[0] == "prev" {
			ok = r.sess.PrevPage()
		} else {
			return errors.New("usage: page next|prev")
		}
		if !ok {
			return errors.New("no such page")
		}
		r.list()
		return nil
	case "history":
		if !r.sess.ShowFullHistory() {
			return errors.New("no annotations to show")
		}
		return r.after(nil)

	case "approve", "reject", "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s REF", name)
		}
		id, err := r.resolve(args[0])
		if err != nil {
			return err
		}
		switch name {
		case "approve":
			err = r.sess.Approve(ctx, id)
		case "reject":
			err = r.sess.Reject(ctx, id)
		default:
			err = r.sess.Delete(ctx, id)
		}
		if err != nil {
			return err
		}
		r.list()
		return nil
	case "describe":
		if len(args) < 2 {
			return errors.New("usage: describe REF TEXT...")
		}
		id, err := r.resolve(args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		return r.sess.Edit(ctx, id, annotation.Patch{Description: &text})

	case "render":
		if len(args) != 1 {
			return errors.New("usage: render FILE.png")
		}
		return r.render(args[0])
	case "size":
		if len(args) != 2 {
			return errors.New("usage: size W H")
		}
		w, h, err := parsePair(args[0], args[1])
		if err != nil {
			return err
		}
		r.width, r.height = w, h
		return nil
	}
	return fmt.Errorf("unknown command %q, try help", name)
}

// after prints the view following a navigation command.
func (r *repl) after(err error) error {
	if err != nil {
		return err
	}
	r.show()
	return nil
}

func (r *repl) navigated(ok bool) error {
	if !ok {
		return errors.New("nothing to select")
	}
	return r.after(nil)
}

func (r *repl) show() {
	snap := r.sess.Orchestrator().Snapshot()
	if snap.Banner != nil {
		msg := snap.Banner.Message
		if snap.Banner.Stale {
			msg += " (showing previous result)"
		}
		color.New(color.FgYellow).Fprintln(r.out, msg)
	}
	p := snap.Params
	if p.Index == "" {
		fmt.Fprintln(r.out, "no data loaded, fill the form and submit")
		return
	}
	fmt.Fprintf(r.out, "%s .. %s  interval %s  %d buckets\n",
		p.StartDate.UTC().Format(time.RFC3339), p.EndDate.UTC().Format(time.RFC3339), p.Interval, len(snap.Buckets))

	t := newTable(r.out, "SERIES", "POINTS", "MIN", "MAX")
	for _, s := range snap.Series {
		if len(s.Points) == 0 {
			continue
		}
		lo, hi := s.Points[0].Value, s.Points[0].Value
		for _, pt := range s.Points[1:] {
			lo = min(lo, pt.Value)
			hi = max(hi, pt.Value)
		}
		t.Append([]string{s.Name, strconv.Itoa(len(s.Points)), strconv.FormatFloat(lo, 'f', 2, 64), strconv.FormatFloat(hi, 'f', 2, 64)})
	}
	t.Render()
	fmt.Fprintf(r.out, "%d annotations in view\n", len(r.sess.Feed().Annotations()))
}

func (r *repl) list() {
	v := r.sess.SidebarView()
	if v.Total == 0 {
		fmt.Fprintln(r.out, "no annotations")
		return
	}
	// Numbers printed are global so "select N" works on any page.
	t := newTable(r.out, "", "#", "ID", "TYPE", "STATUS", "START", "DESCRIPTION")
	for i, a := range v.Items {
		mark := ""
		if a.ID == v.SelectedID {
			mark = ">"
		}
		t.Append([]string{
			mark,
			strconv.Itoa(v.First + i),
			a.ID,
			color.New(colorAttr(a.Color)).Sprint(string(a.AnnotationType)),
			statusLabel(a.Status),
			a.StartDate.UTC().Format(time.RFC3339),
			truncate(a.Description, 48),
		})
	}
	t.Render()
	fmt.Fprintf(r.out, "%d-%d of %d, page %d/%d\n", v.First, v.Last, v.Total, v.Page, v.TotalPages)
}

// resolve accepts an annotation id or a number printed by list.
func (r *repl) resolve(ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	v := r.sess.SidebarView()
	i := n - v.First
	if i < 0 || i >= len(v.Items) {
		return "", fmt.Errorf("%d is not on the current page", n)
	}
	return v.Items[i].ID, nil
}

// frame renders off-screen so pixel commands have a current layout.
func (r *repl) frame() error {
	surface, err := chart.NewPNGSurface(int(r.width), int(r.height), 1)
	if err != nil {
		return err
	}
	return r.sess.Render(surface, r.width, r.height)
}

func (r *repl) render(path string) error {
	surface, err := chart.NewPNGSurface(int(r.width), int(r.height), 2)
	if err != nil {
		return err
	}
	if err := r.sess.Render(surface, r.width, r.height); err != nil {
		return err
	}
	if err := writeFile(path, surface.Save); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "wrote %s\n", path)
	return nil
}

func parsePair(a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// colorAttr maps a palette hex color to the nearest basic terminal color.
func colorAttr(hex string) color.Attribute {
	rgb, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil || len(hex) != 7 {
		return color.Reset
	}
	r, g, b := rgb>>16&0xff, rgb>>8&0xff, rgb&0xff
	code := 0
	if r > 127 {
		code |= 1
	}
	if g > 127 {
		code |= 2
	}
	if b > 127 {
		code |= 4
	}
	return color.FgBlack + color.Attribute(code)
}

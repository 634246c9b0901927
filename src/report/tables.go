package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"build-bridge/src/jenkins"
	"build-bridge/src/reconcile"
	"build-bridge/src/store"
)

const (
	jobWidth    = 36
	numberWidth = 6
	statusWidth = 10
	timeFormat  = "2006-01-02 15:04:05"
)

// Renderer writes styled tables.
type Renderer struct {
	w      io.Writer
	styles *Styles
}

// NewRenderer returns a Renderer writing to w with the default styles.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w, styles: DefaultStyles()}
}

func (r *Renderer) table(title string, header string, rows []string) {
	body := r.styles.TitleStyle().Render(header)
	if len(rows) > 0 {
		body += "\n" + strings.Join(rows, "\n")
	}
	fmt.Fprintln(r.w, r.styles.TitleStyle().Render(title))
	fmt.Fprintln(r.w, r.styles.TableStyle().Render(body))
}

// Outcomes renders the handling of each unrecorded build of a run.
func (r *Renderer) Outcomes(config string, res *reconcile.Result, preview bool) {
	title := fmt.Sprintf("%s: %d unrecorded, %d already reflected", config, len(res.Unrecorded), res.Reflected)
	if preview {
		title += " (Preview Mode)"
	}
	header := strings.Join([]string{
		Column("JOB", jobWidth), RightColumn("#", numberWidth), Column("STATUS", statusWidth), Column("STARTED", len(timeFormat)), "OUTCOME",
	}, "  ")

	rows := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		b := o.Build
		outcome := string(o.Kind)
		if o.Err != nil {
			outcome += ": " + Truncate(o.Err.Error(), 60, true)
		}
		rows = append(rows, strings.Join([]string{
			Column(b.JobPath, jobWidth),
			RightColumn(b.Number, numberWidth),
			r.styles.StatusStyle(string(b.Status)).Render(Column(string(b.Status), statusWidth)),
			b.StartTime().Format(timeFormat),
			r.styles.StatusStyle(string(o.Kind)).Render(outcome),
		}, "  "))
	}
	r.table(title, header, rows)
}

// Runs renders ledger entries.
func (r *Renderer) Runs(runs []store.Run) {
	header := strings.Join([]string{
		Column("RUN", 36), Column("CONFIG", 16), Column("STARTED", len(timeFormat)), Column("STATUS", 10),
		RightColumn("POSTED", 6), RightColumn("ERRORS", 6), "WATERMARK",
	}, "  ")
	rows := make([]string, 0, len(runs))
	for _, run := range runs {
		status := run.Status
		if run.Preview {
			status += "*"
		}
		rows = append(rows, strings.Join([]string{
			Column(run.ID, 36),
			Column(run.Config, 16),
			run.StartedAt.UTC().Format(timeFormat),
			r.styles.StatusStyle(run.Status).Render(Column(status, 10)),
			RightColumn(fmt.Sprint(run.Posted), 6),
			RightColumn(fmt.Sprint(run.Errored), 6),
			formatOptional(run.Watermark),
		}, "  "))
	}
	r.table(fmt.Sprintf("%d runs (* preview)", len(runs)), header, rows)
}

// PostedBuilds renders the builds a run created.
func (r *Renderer) PostedBuilds(run *store.Run, builds []store.PostedBuild) {
	header := strings.Join([]string{
		Column("JOB", jobWidth), RightColumn("#", numberWidth), Column("STATUS", statusWidth), Column("STARTED", len(timeFormat)), "BACKLOG REF",
	}, "  ")
	rows := make([]string, 0, len(builds))
	for _, b := range builds {
		rows = append(rows, strings.Join([]string{
			Column(b.JobPath, jobWidth),
			RightColumn(b.Number, numberWidth),
			r.styles.StatusStyle(b.Status).Render(Column(b.Status, statusWidth)),
			b.StartedAt.UTC().Format(timeFormat),
			b.BacklogRef,
		}, "  "))
	}
	r.table(fmt.Sprintf("Run %s of %s", run.ID, run.Config), header, rows)
}

// Inventory renders the folders, views and jobs known to a Jenkins inventory.
func (r *Renderer) Inventory(version string, inv *jenkins.Inventory) {
	fmt.Fprintln(r.w, r.styles.TitleStyle().Render(fmt.Sprintf("Jenkins %s, depth %d", version, inv.MaxDepth)))

	folders := make([]string, 0, len(inv.Folders))
	for p := range inv.Folders {
		folders = append(folders, p)
	}
	sort.Strings(folders)
	rows := make([]string, 0, len(folders))
	for _, p := range folders {
		rows = append(rows, fmt.Sprintf("%s  %4d jobs", Column(p, 60), len(inv.Folders[p].Jobs)))
	}
	r.table("Folders", Column("PATH", 60)+"  JOBS", rows)

	views := make([]string, 0, len(inv.Views))
	for p := range inv.Views {
		views = append(views, p)
	}
	sort.Strings(views)
	rows = rows[:0]
	for _, p := range views {
		rows = append(rows, fmt.Sprintf("%s  %4d jobs", Column(p, 60), len(inv.Views[p].Jobs)))
	}
	r.table("Views", Column("PATH", 60)+"  JOBS", rows)

	jobs := inv.AllJobs()
	rows = make([]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, fmt.Sprintf("%s  %s", Column(j.Path(), 60), j.Kind))
	}
	r.table("Jobs", Column("PATH", 60)+"  KIND", rows)
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeFormat)
}

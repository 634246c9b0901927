// Package report renders run results for logs and terminals.
package report

import (
	"fmt"
	"sort"
	"time"

	"build-bridge/src/logger"
	"build-bridge/src/provider"
	"build-bridge/src/reconcile"
)

// FormatElapsed renders d in whole seconds as "H hours M minutes S seconds",
// leaving out leading zero units.
func FormatElapsed(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	hours, rem := total/3600, total%3600
	mins, secs := rem/60, rem%60
	switch {
	case hours > 0:
		return fmt.Sprintf("%d hours %d minutes %d seconds", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%d minutes %d seconds", mins, secs)
	}
	return fmt.Sprintf("%d seconds", secs)
}

// JobCounts returns, per job in first-seen order, the builds posted by res.
// In preview mode the builds that would have been posted are counted.
func JobCounts(res *reconcile.Result, preview bool) []reconcile.JobCount {
	if !preview {
		return res.PostedByJob()
	}
	var out []reconcile.JobCount
	index := make(map[string]int)
	for _, o := range res.Outcomes {
		if o.Kind != reconcile.Previewed {
			continue
		}
		i, ok := index[o.Build.JobPath]
		if !ok {
			i = len(out)
			index[o.Build.JobPath] = i
			out = append(out, reconcile.JobCount{Job: o.Build.JobPath})
		}
		out[i].Count++
	}
	return out
}

// StatisticsLines returns the per job summary lines of a run.
func StatisticsLines(config string, res *reconcile.Result, preview bool) []string {
	reminder := ""
	if preview {
		reminder = " (Preview Mode)"
	}
	var lines []string
	for _, jc := range JobCounts(res, preview) {
		lines = append(lines, fmt.Sprintf("%s: %3d builds posted for job %s%s", config, jc.Count, jc.Job, reminder))
	}
	return lines
}

// LogStatistics writes the run summary of one configuration to log.
func LogStatistics(log logger.Logger, config string, res *reconcile.Result, preview bool, elapsed time.Duration) {
	if res != nil {
		for _, line := range StatisticsLines(config, res, preview) {
			log.Info("%s", line)
		}
		if n := res.Count(reconcile.Errored); n > 0 {
			log.Warn("%s: %d builds could not be posted and stay unrecorded", config, n)
		}
		if n := res.Count(reconcile.Deferred); n > 0 {
			log.Info("%s: %d builds deferred to a later run by MaxBuilds", config, n)
		}
	}
	log.Info("%s: service run took %s", config, FormatElapsed(elapsed))
}

// BuildInformation lists, per project and container, the jobs with their
// build counts on each side of a run.
func BuildInformation(res *reconcile.Result) []string {
	var lines []string
	if res == nil {
		return lines
	}

	projects := make([]string, 0, len(res.BacklogBuilds))
	for p := range res.BacklogBuilds {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		lines = append(lines, fmt.Sprintf("AgileCentral project: %s", p))
		lines = append(lines, jobLines(res.BacklogBuilds[p])...)
	}

	keys := make([]provider.ContainerKey, 0, len(res.CIBuilds))
	for k := range res.CIBuilds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Project != keys[j].Project {
			return keys[i].Project < keys[j].Project
		}
		return keys[i].Container < keys[j].Container
	})
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("Jenkins container: %s  (AgileCentral project: %s)", k.Container, k.Project))
		lines = append(lines, jobLines(res.CIBuilds[k])...)
	}
	return lines
}

func jobLines(jobs provider.JobBuilds) []string {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("    %s  %4d builds", Column(name, 36), len(jobs[name])))
	}
	return lines
}

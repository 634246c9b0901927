package reconcile

import (
	"sort"

	"build-bridge/src/agilecentral"
	"build-bridge/src/provider"
)

// Diff returns the CI builds with no backlog counterpart, in posting order,
// and the number of CI builds already reflected. A CI build is reflected when
// its project holds a build of the same definition name and number.
func Diff(backlog map[string]provider.JobBuilds, ci map[provider.ContainerKey]provider.JobBuilds) (unrecorded []provider.BuildRecord, reflected int) {
	recorded := make(map[string]map[string]map[string]bool)
	for project, jobs := range backlog {
		recorded[project] = make(map[string]map[string]bool)
		for def, builds := range jobs {
			nums := make(map[string]bool, len(builds))
			for _, b := range builds {
				nums[provider.CanonicalNumber(b.Number)] = true
			}
			recorded[project][def] = nums
		}
	}

	for key, jobs := range ci {
		for jobPath, builds := range jobs {
			nums := recorded[key.Project][agilecentral.DefinitionName(jobPath)]
			for _, b := range builds {
				if nums[provider.CanonicalNumber(b.Number)] {
					reflected++
					continue
				}
				b.Project = key.Project
				if b.Container == "" {
					b.Container = key.Container
				}
				unrecorded = append(unrecorded, b)
			}
		}
	}

	SortBuilds(unrecorded)
	return unrecorded, reflected
}

// SortBuilds orders builds oldest first, then by project, job path and number.
func SortBuilds(builds []provider.BuildRecord) {
	sort.SliceStable(builds, func(i, j int) bool {
		a, b := builds[i], builds[j]
		if a.StartedAt != b.StartedAt {
			return a.StartedAt < b.StartedAt
		}
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.JobPath != b.JobPath {
			return a.JobPath < b.JobPath
		}
		return a.Number < b.Number
	})
}

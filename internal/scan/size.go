package scan

import "os"

// GroupBySize partitions paths by exact byte size. Paths that cannot be
// stat'd are dropped; their failures are returned alongside the groups.
// Identical files always share a size, so this never loses a true duplicate.
func GroupBySize(paths []string) (map[int64][]string, []FileFailure) {
	groups := make(map[int64][]string)
	var failures []FileFailure
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			failures = append(failures, classifyFailure(path, err))
			continue
		}
		groups[info.Size()] = append(groups[info.Size()], path)
	}
	return groups, failures
}

// PotentialDuplicates returns the members of all size groups with at least
// two entries, the mandatory pre-filter before any hashing.
func PotentialDuplicates(paths []string) ([]string, []FileFailure) {
	groups, failures := GroupBySize(paths)
	var out []string
	for _, group := range groups {
		if len(group) > 1 {
			out = append(out, group...)
		}
	}
	return out, failures
}

// Package provision implements the capacity-aware provisioning engine: it
// walks a ranked list of (resource class, region) options per runner,
// retries rate limits with backoff, falls through capacity failures, records
// every attempt in a ledger, and waits for launched instances to become
// reachable.
package provision

import "github.com/capstan-ci/capstan/cloud"

// Candidates builds the ordered cross-product of resource class preferences
// and region preferences, class-major: every region is tried for the first
// class before the second class is considered. The caller-supplied priority
// order is preserved as-is.
func Candidates(classes, regions []string) []cloud.ResourceOption {
	options := make([]cloud.ResourceOption, 0, len(classes)*len(regions))
	for _, class := range classes {
		for _, region := range regions {
			options = append(options, cloud.ResourceOption{Class: class, Region: region})
		}
	}
	return options
}

// nextOptionHint describes what the search will try after options[i] fails,
// for the capacity-fallback annotation: the next region for the same class
// if there is one, otherwise the next class, otherwise nothing.
func nextOptionHint(options []cloud.ResourceOption, i int) string {
	if i+1 >= len(options) {
		return ""
	}
	next := options[i+1]
	if next.Class == options[i].Class {
		return "next region " + next.Region
	}
	return "next type " + next.Class
}

package provision

import (
	"context"
	"log/slog"

	"github.com/capstan-ci/capstan/cloud"
	"github.com/samber/lo"
)

// FilterAvailable queries current capacity once and narrows the class/region
// cross-product to the options the backend reports as viable, preserving the
// caller's priority order. Classes with zero available regions are skipped
// entirely.
//
// The result is advisory: an option kept here can still fail at launch time
// when another tenant wins the race. An availability query failure is also
// advisory and falls back to the full unfiltered cross-product.
func FilterAvailable(ctx context.Context, provider cloud.Provider, classes, regions []string, log *slog.Logger) []cloud.ResourceOption {
	availability, err := provider.ListAvailability(ctx)
	if err != nil {
		log.Warn("Availability query failed, using unfiltered candidate list", "error", err)
		return Candidates(classes, regions)
	}

	var options []cloud.ResourceOption
	for _, class := range classes {
		available := availability[class]
		if len(available) == 0 {
			log.Debug("Skipping type with no available regions", "type", class)
			continue
		}
		for _, region := range regions {
			if lo.Contains(available, region) {
				options = append(options, cloud.ResourceOption{Class: class, Region: region})
			}
		}
	}
	return options
}

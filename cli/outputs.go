package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/capstan-ci/capstan/provision"
)

// writeOutputs publishes the grant set to GITHUB_OUTPUT so workflow jobs can
// fan out over the runners. Single-runner runs also get flat instance-id and
// label outputs for convenience. A no-op outside of GitHub Actions.
func writeOutputs(grants []provision.RunnerGrant, extraLabels []string) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	type entry struct {
		ID         string `json:"id"`
		InstanceID string `json:"instance_id"`
		Type       string `json:"instance_type"`
		Region     string `json:"region"`
	}
	matrix := make([]entry, 0, len(grants))
	for _, grant := range grants {
		matrix = append(matrix, entry{
			ID:         strings.Join(append(append([]string{}, extraLabels...), grant.Label), "+"),
			InstanceID: grant.InstanceID,
			Type:       grant.Option.Class,
			Region:     grant.Option.Region,
		})
	}
	encoded, err := json.Marshal(matrix)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	lines := []string{fmt.Sprintf("mtx=%s", encoded)}
	if len(grants) == 1 {
		lines = append(lines,
			fmt.Sprintf("instance-id=%s", grants[0].InstanceID),
			fmt.Sprintf("label=%s", grants[0].Label),
		)
	}
	_, err = fmt.Fprintln(f, strings.Join(lines, "\n"))
	return err
}

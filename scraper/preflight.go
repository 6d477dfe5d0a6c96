package scraper

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary the pipeline shells out to.
type Requirement struct {
	Name    string
	Command string
}

// MissingBinaries returns a description of every requirement whose command
// cannot be found on PATH.
func MissingBinaries(reqs []Requirement) []string {
	var missing []string
	for _, req := range reqs {
		cmd := strings.TrimSpace(req.Command)
		if cmd == "" {
			missing = append(missing, fmt.Sprintf("%s: command not configured", req.Name))
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			missing = append(missing, fmt.Sprintf("%s: binary %q not found", req.Name, cmd))
		}
	}
	return missing
}

// ABOUTME: CVSS vector parsing used to derive a finding's score from its vector.
// ABOUTME: Supports CVSS 2.0, 3.0, 3.1 and 4.0 vectors.

package cvss

import (
	"fmt"
	"strings"

	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"

	"github.com/jfeddern/RiskGate/internal/types"
)

// BaseScore parses a CVSS vector and returns its base score
func BaseScore(vector string) (float64, error) {
	vector = strings.TrimSpace(vector)

	switch {
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		c, err := gocvss40.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("failed to parse CVSS 4.0 vector %q: %w", vector, err)
		}
		return c.Score(), nil
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		c, err := gocvss31.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("failed to parse CVSS 3.1 vector %q: %w", vector, err)
		}
		return c.BaseScore(), nil
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		c, err := gocvss30.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("failed to parse CVSS 3.0 vector %q: %w", vector, err)
		}
		return c.BaseScore(), nil
	case vector == "":
		return 0, fmt.Errorf("empty CVSS vector")
	default:
		// v2 vectors have no version prefix and are sometimes wrapped in parentheses
		c, err := gocvss20.ParseVector(strings.Trim(vector, "()"))
		if err != nil {
			return 0, fmt.Errorf("failed to parse CVSS 2.0 vector %q: %w", vector, err)
		}
		return c.BaseScore(), nil
	}
}

// Resolve fills the finding's CVSS score from its vector when no score is set.
// A vector that cannot be parsed leaves the score empty and is reported to the caller.
func Resolve(f *types.Finding) error {
	if f.CVSSScore != nil && *f.CVSSScore != 0 {
		return nil
	}
	if f.CVSSVector == "" {
		return nil
	}

	score, err := BaseScore(f.CVSSVector)
	if err != nil {
		return err
	}
	f.CVSSScore = &score
	return nil
}

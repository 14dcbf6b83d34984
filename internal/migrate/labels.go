package migrate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultLabelColor = "#FF0000"
	whiteReplacement  = "#f0f0f0"
	emojiLabelName    = "emoji"

	// GitLab allows emoji labels which Bitbucket cannot display; those are one or two runes.
	emojiMaxRunes = 2
)

// ResolveLabel derives the Bitbucket label for a merge request label name. Merge requests
// only carry label names, so the colour comes from the project's label definitions.
func ResolveLabel(name string, definitions []SourceLabel) PRLabel {
	for _, def := range definitions {
		if def.Name != name {
			continue
		}

		label := PRLabel{Name: name, Color: normalizeLabelColor(def.Color)}
		if utf8.RuneCountInString(def.Name) <= emojiMaxRunes {
			label.Name = emojiLabelName
			if def.Description != "" {
				label.Name = def.Description
			}
		}
		return label
	}

	return PRLabel{Name: name, Color: defaultLabelColor}
}

// normalizeLabelColor swaps pure white, which is invisible in the Bitbucket UI, for light grey.
func normalizeLabelColor(color string) string {
	switch strings.ToLower(color) {
	case "#fff", "#ffffff":
		return whiteReplacement
	}
	return color
}

// LabelSynchronizer adds missing merge request labels to a pull request. It never removes
// labels from the destination.
type LabelSynchronizer struct {
	dest   Destination
	repo   DestinationRepo
	logger hclog.Logger
}

func NewLabelSynchronizer(dest Destination, repo DestinationRepo, logger hclog.Logger) *LabelSynchronizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LabelSynchronizer{dest: dest, repo: repo, logger: logger}
}

// Sync creates every label in names that the pull request does not have yet and returns how
// many were created. Any creation failure is returned.
func (s *LabelSynchronizer) Sync(ctx context.Context, prID int, names []string, definitions []SourceLabel) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}

	existing, err := s.dest.ListPullRequestLabels(ctx, s.repo, prID)
	if err != nil {
		return 0, fmt.Errorf("listing labels of pull request %d: %w", prID, err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[name] = struct{}{}
	}

	created := 0
	for _, name := range names {
		if _, ok := present[name]; ok {
			continue
		}

		label := ResolveLabel(name, definitions)
		if _, ok := present[label.Name]; ok {
			continue
		}

		s.logger.Debug("creating pull request label", "pr_id", prID, "label", label.Name, "color", label.Color)
		if err := s.dest.CreatePullRequestLabel(ctx, s.repo, prID, label); err != nil {
			return created, fmt.Errorf("creating label %q for pull request %d: %w", label.Name, prID, err)
		}
		present[label.Name] = struct{}{}
		created++
	}

	return created, nil
}

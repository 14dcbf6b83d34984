package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var projectLabels = []SourceLabel{
	{Name: "bug", Color: "#d9534f"},
	{Name: "docs", Color: "#FFFFFF"},
	{Name: "🔥", Color: "#fff", Description: "hot"},
	{Name: "👀", Color: "#428bca"},
}

func TestResolveLabel(t *testing.T) {
	assert.Equal(t, PRLabel{Name: "bug", Color: "#d9534f"}, ResolveLabel("bug", projectLabels))
	assert.Equal(t, PRLabel{Name: "docs", Color: "#f0f0f0"}, ResolveLabel("docs", projectLabels))
	assert.Equal(t, PRLabel{Name: "hot", Color: "#f0f0f0"}, ResolveLabel("🔥", projectLabels))
	assert.Equal(t, PRLabel{Name: "emoji", Color: "#428bca"}, ResolveLabel("👀", projectLabels))
	assert.Equal(t, PRLabel{Name: "unknown", Color: "#FF0000"}, ResolveLabel("unknown", projectLabels))
}

func TestLabelSynchronizerAddsMissingOnly(t *testing.T) {
	dest := &fakeDestination{prLabels: map[int][]string{7: {"bug", "hot"}}}
	sync := NewLabelSynchronizer(dest, DestinationRepo{ID: 3, ProjectID: 2}, nil)

	created, err := sync.Sync(context.Background(), 7, []string{"bug", "🔥", "docs", "unknown"}, projectLabels)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, []PRLabel{{Name: "docs", Color: "#f0f0f0"}, {Name: "unknown", Color: "#FF0000"}}, dest.createdLabels)

	created, err = sync.Sync(context.Background(), 7, []string{"bug", "🔥", "docs", "unknown"}, projectLabels)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestLabelSynchronizerFailure(t *testing.T) {
	dest := &fakeDestination{labelErr: errors.New("403 forbidden")}
	sync := NewLabelSynchronizer(dest, DestinationRepo{}, nil)

	_, err := sync.Sync(context.Background(), 1, []string{"bug"}, projectLabels)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `creating label "bug"`)
}

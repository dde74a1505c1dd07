package owners_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/owners"
)

const ownersYAML = `
owners:
  - id: owner-1
    name: Dana
    active: true
    timezone: Europe/Berlin
    interests: [golang, distributed systems]
    organization: Acme
    preferred_times: ["09:00", "17:30"]
    rules:
      max_per_day: 5
      require_manual_approval: true
  - id: owner-2
    active: false
`

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParse_AppliesDefaults(t *testing.T) {
	got, err := owners.Parse([]byte(ownersYAML))
	require.NoError(t, err)
	require.Len(t, got, 2)

	o := got["owner-1"]
	assert.Equal(t, 5, o.Rules.MaxPerDay)
	assert.Equal(t, 3, o.Rules.MaxPerHour, "unset rules take defaults")
	assert.True(t, o.Rules.RequireManualApproval)
	assert.Equal(t, []string{"09:00", "17:30"}, o.PreferredAt)

	assert.Equal(t, "UTC", got["owner-2"].Timezone)
	assert.False(t, got["owner-2"].Active)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad timezone":   "owners:\n  - id: a\n    timezone: Mars/Olympus\n",
		"missing id":     "owners:\n  - name: nobody\n",
		"duplicate id":   "owners:\n  - id: a\n  - id: a\n",
		"bad time":       "owners:\n  - id: a\n    preferred_times: [\"25:00\"]\n",
		"bad hours":      "owners:\n  - id: a\n    rules: {active_hours_start: 20, active_hours_end: 8}\n",
		"malformed yaml": "owners: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := owners.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestStatic_OwnerReturnsCopy(t *testing.T) {
	s := owners.NewStatic(&domain.Owner{ID: "o", Interests: []string{"go"}})

	o, err := s.Owner(context.Background(), "o")
	require.NoError(t, err)
	o.Interests[0] = "changed"
	assert.Equal(t, 10, o.Rules.MaxPerDay)

	again, err := s.Owner(context.Background(), "o")
	require.NoError(t, err)
	assert.Equal(t, "go", again.Interests[0])
	assert.Equal(t, []string{"o"}, s.IDs())
}

func TestStatic_NotFound(t *testing.T) {
	_, err := owners.NewStatic().Owner(context.Background(), "ghost")
	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "owner", nf.Kind)
}

func TestFile_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ownersYAML), 0o600))

	f, err := owners.OpenFile(path, discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Watch(ctx))

	updated := "owners:\n  - id: owner-3\n    active: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		_, err := f.Owner(context.Background(), "owner-3")
		return err == nil
	}, 3*time.Second, 25*time.Millisecond)

	_, err = f.Owner(context.Background(), "owner-1")
	assert.Error(t, err, "owners missing from the new file are gone")
}

func TestFile_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ownersYAML), 0o600))
	f, err := owners.OpenFile(path, discard())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("owners: ["), 0o600))
	require.Error(t, f.Reload())

	_, err = f.Owner(context.Background(), "owner-1")
	assert.NoError(t, err)
}

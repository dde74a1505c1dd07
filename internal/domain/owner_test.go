package domain_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

func TestDefaultRules(t *testing.T) {
	r := domain.DefaultRules()
	assert.Equal(t, 10, r.MaxPerDay)
	assert.Equal(t, 3, r.MaxPerHour)
	assert.Equal(t, 2*time.Hour, r.MinSpacing())
	assert.Equal(t, 24*time.Hour, r.MinAuthorSpacing())
	assert.Equal(t, 48*time.Hour, r.MaxTargetAge())
	require.NoError(t, r.Validate())
}

func TestWithDefaults_KeepsOverrides(t *testing.T) {
	r := domain.CommentingRules{MaxPerDay: 4, RequireManualApproval: true}.WithDefaults()
	assert.Equal(t, 4, r.MaxPerDay)
	assert.Equal(t, 3, r.MaxPerHour)
	assert.True(t, r.RequireManualApproval)
	assert.Equal(t, 6, r.ActiveHoursStart)
	assert.Equal(t, 22, r.ActiveHoursEnd)
}

func TestRulesValidate_RejectsInvertedHours(t *testing.T) {
	r := domain.DefaultRules()
	r.ActiveHoursStart, r.ActiveHoursEnd = 20, 8
	assert.Error(t, r.Validate())
}

func TestOwnerValidate(t *testing.T) {
	o := &domain.Owner{ID: "o1", Timezone: "Europe/Berlin", PreferredAt: []string{"09:00"}, Rules: domain.DefaultRules()}
	require.NoError(t, o.Validate())

	o.PreferredAt = []string{"9am"}
	assert.Error(t, o.Validate())

	o.PreferredAt = nil
	o.Timezone = "Mars/Olympus"
	assert.Error(t, o.Validate())
}

func TestOwnerPreferredTimes(t *testing.T) {
	o := &domain.Owner{PreferredAt: []string{"08:30", "bogus", "17:00"}}
	got := o.PreferredTimes()
	require.Len(t, got, 2)
	assert.Equal(t, domain.TimeOfDay{Hour: 8, Minute: 30}, got[0])

	ref := time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 2, 17, 0, 0, 0, time.UTC), got[1].On(ref))
}

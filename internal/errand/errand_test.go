package errand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Repair ")
	require.NoError(t, err)
	assert.Equal(t, KindRepair, k)

	_, err = ParseKind("gardening")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEveryKindHasPolicy(t *testing.T) {
	for _, k := range Kinds {
		_, err := PolicyFor(k)
		assert.NoError(t, err, k)
	}
	assert.True(t, Errand{Kind: KindConsultation}.Remote())
	assert.False(t, Errand{Kind: KindRepair}.Remote())
}

func TestErrandValidate(t *testing.T) {
	ok := Errand{Kind: KindCleaning, BaseDuration: 30 * time.Minute, IncentiveMultiplier: 1}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.BaseDuration = 0
	assert.ErrorIs(t, bad.Validate(), ErrBadErrand)

	bad = ok
	bad.IncentiveMultiplier = 0.5
	assert.ErrorIs(t, bad.Validate(), ErrBadErrand)

	bad = ok
	bad.Kind = "unknown"
	assert.ErrorIs(t, bad.Validate(), ErrUnknownKind)

	bad = ok
	bad.Disincentive = &Disincentive{Kind: "weekly", Value: 1}
	assert.ErrorIs(t, bad.Validate(), ErrBadDisincentive)

	bad.Disincentive = &Disincentive{Kind: PercentPerDay, Value: -1}
	assert.ErrorIs(t, bad.Validate(), ErrBadDisincentive)

	bad.Disincentive = &Disincentive{Kind: FixedPerDay, Value: 5, GraceDays: -2}
	assert.ErrorIs(t, bad.Validate(), ErrBadDisincentive)
}

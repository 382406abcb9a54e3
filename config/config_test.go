package config_test

import (
	"testing"

	"github.com/signove/phd-manager/config"
	"github.com/signove/phd-manager/dim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardRegistryLookup(t *testing.T) {
	report, ok := config.LookupStandard(0x0190)
	require.True(t, ok)
	require.Len(t, report.Objects, 2)
	assert.EqualValues(t, 1, report.Objects[0].Handle)
	assert.EqualValues(t, 10, report.Objects[1].Handle)

	_, ok = config.LookupStandard(0x9999)
	assert.False(t, ok)
}

func TestStandardRangeHelpers(t *testing.T) {
	assert.True(t, config.IsStandardRange(0x0190))
	assert.False(t, config.IsStandardRange(0x4001))
	assert.True(t, config.IsExtendedRange(0x4001))
	assert.False(t, config.IsExtendedRange(0x0190))
}

func TestRegisterStandardRejectsExtendedRange(t *testing.T) {
	err := config.RegisterStandard(0x4001, func() *dim.ConfigReport { return &dim.ConfigReport{} })
	require.Error(t, err)
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := config.NewMemStore()
	systemID := []byte{1, 2, 3, 4}
	report, ok := config.LookupStandard(0x06A4)
	require.True(t, ok)

	_, found, err := s.Lookup(systemID, 0x4005)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(systemID, 0x4005, report))
	got, found, err := s.Lookup(systemID, 0x4005)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, report, got)
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoseListScan(t *testing.T) {
	var doses DoseList
	err := doses.Scan([]byte(`[{"dose":"2.4 mg","weightLossPercent":14.9}]`))
	require.NoError(t, err)
	require.Len(t, doses, 1)
	assert.Equal(t, "2.4 mg", doses[0].Dose)

	err = doses.Scan(`[]`)
	require.NoError(t, err)
	assert.Empty(t, doses)

	err = doses.Scan(42)
	assert.Error(t, err)
}

func TestDoseListValueNilIsEmptyArray(t *testing.T) {
	var doses DoseList
	v, err := doses.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateMillis(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base, TruncateMillis(base.Add(999*time.Microsecond)))
	assert.Equal(t, base.Add(time.Millisecond), TruncateMillis(base.Add(1500*time.Microsecond)))

	local := base.In(time.FixedZone("CET", 3600))
	assert.Equal(t, base, TruncateMillis(local))
}

func TestIntervalJSONOpenEnd(t *testing.T) {
	iv := Interval{ResourceID: "r", Type: Up, Start: time.UnixMilli(1000).UTC()}
	data, err := json.Marshal(iv)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"end":null`)

	var back Interval
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Open())
	assert.Equal(t, "UP[1000,open)", back.String())
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowconfig

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "grimm.is/flowengine/internal/errors"
	"grimm.is/flowengine/internal/flow"
	"grimm.is/flowengine/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func TestLoadFlowConfig_Defaults(t *testing.T) {
	root := NewMapNode()
	cfg, tt := LoadFlowConfig(root, testLogger())

	want := flow.DefaultConfig()
	assert.Equal(t, want, cfg)
	assert.Equal(t, flow.DefaultTimeoutTable().Timeout(flow.ProtoTCP, flow.PhaseEstablished, false),
		tt.Timeout(flow.ProtoTCP, flow.PhaseEstablished, false))
}

func TestLoadFlowConfig_OverridesFromNode(t *testing.T) {
	root := NewMapNode()
	require.NoError(t, root.Set("flow.hash-size", "1024", true))
	require.NoError(t, root.Set("flow.memcap", "64mb", true))
	require.NoError(t, root.Set("flow.prealloc", "500", true))
	require.NoError(t, root.Set("flow.emergency-recovery", "40", true))
	require.NoError(t, root.Set("flow.prune-flows", "10", true))
	require.NoError(t, root.Set("flow.manager-interval", "2s", true))

	cfg, _ := LoadFlowConfig(root, testLogger())
	assert.Equal(t, uint32(1024), cfg.HashSize)
	assert.Equal(t, int64(64*1000*1000), cfg.Memcap)
	assert.Equal(t, 500, cfg.Prealloc)
	assert.Equal(t, 40, cfg.EmergencyRecoveryPercent)
	assert.Equal(t, 10, cfg.PruneBatch)
	assert.Equal(t, 2*time.Second, cfg.ManagerInterval)
}

func TestLoadFlowConfig_InvalidValueFallsBackToDefault(t *testing.T) {
	root := NewMapNode()
	require.NoError(t, root.Set("flow.hash-size", "not-a-number", true))

	cfg, _ := LoadFlowConfig(root, testLogger())
	assert.Equal(t, flow.DefaultConfig().HashSize, cfg.HashSize)
}

func TestLoadFlowConfig_MemcapEnforceLooseTruthy(t *testing.T) {
	for _, v := range []string{"off", "garbage", "0", "no"} {
		root := NewMapNode()
		require.NoError(t, root.Set("flow.memcap-enforce", v, true))
		cfg, _ := LoadFlowConfig(root, testLogger())
		assert.Equal(t, int64(0), cfg.Memcap, "non-truthy value %q should disable the memcap", v)
	}

	root := NewMapNode()
	require.NoError(t, root.Set("flow.memcap-enforce", "Yes", true))
	cfg, _ := LoadFlowConfig(root, testLogger())
	assert.NotEqual(t, int64(0), cfg.Memcap)
}

func TestLoadFlowConfig_TimeoutOverride(t *testing.T) {
	root := NewMapNode()
	require.NoError(t, root.Set("flow-timeouts.tcp.established", "5m", true))
	require.NoError(t, root.Set("flow-timeouts.tcp.emergency-established", "1m", true))

	_, tt := LoadFlowConfig(root, testLogger())
	assert.Equal(t, 5*time.Minute, tt.Timeout(flow.ProtoTCP, flow.PhaseEstablished, false))
	assert.Equal(t, time.Minute, tt.Timeout(flow.ProtoTCP, flow.PhaseEstablished, true))
}

func TestLoadFlowConfig_TimeoutBareSeconds(t *testing.T) {
	root := NewMapNode()
	require.NoError(t, root.Set("flow-timeouts.tcp.new", "42", true))

	_, tt := LoadFlowConfig(root, testLogger())
	assert.Equal(t, 42*time.Second, tt.Timeout(flow.ProtoTCP, flow.PhaseNew, false))
	assert.Equal(t, flow.DefaultTimeoutTable().Timeout(flow.ProtoUDP, flow.PhaseNew, false),
		tt.Timeout(flow.ProtoUDP, flow.PhaseNew, false), "other protocols keep their defaults")
}

func TestLoadFlowConfig_EmergencyRecoveryOutOfRange(t *testing.T) {
	for _, v := range []string{"0", "101", "-5", "junk"} {
		root := NewMapNode()
		require.NoError(t, root.Set("flow.emergency-recovery", v, true))
		cfg, _ := LoadFlowConfig(root, testLogger())
		assert.Equal(t, flow.DefaultConfig().EmergencyRecoveryPercent, cfg.EmergencyRecoveryPercent,
			"value %q is outside 1..100 and must fall back to the default", v)
	}
}

func TestMapNode_AllowOverrideLocksValue(t *testing.T) {
	root := NewMapNode()
	require.NoError(t, root.Set("flow.hash-size", "1024", false))

	err := root.Set("flow.hash-size", "2048", true)
	require.Error(t, err, "a value set with allowOverride=false must reject later writes")
	assert.Equal(t, flowerrors.KindConflict, flowerrors.GetKind(err))
	assert.Equal(t, "flow.hash-size", flowerrors.GetAttributes(err)["key"])

	v, ok := root.GetValue("flow.hash-size")
	require.True(t, ok)
	assert.Equal(t, "1024", v)
}

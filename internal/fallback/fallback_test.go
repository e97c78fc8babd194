package fallback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/flowerr"
)

func TestExecuteWithFallback_SuccessClearsFailureMark(t *testing.T) {
	m := NewManager(map[Component]Policy{ComponentRedis: Degraded})
	m.ForceFail(ComponentRedis)
	assert.True(t, m.Failed()[ComponentRedis])

	_, err := m.ExecuteWithFallback(ComponentRedis,
		func() (interface{}, error) { return "ok", nil },
		func() (interface{}, error) { return "fallback", nil },
	)
	require.NoError(t, err)
	assert.False(t, m.Failed()[ComponentRedis])
}

func TestExecuteWithFallback_FailClosed(t *testing.T) {
	m := NewManager(map[Component]Policy{ComponentPostgres: FailClosed})
	_, err := m.ExecuteWithFallback(ComponentPostgres,
		func() (interface{}, error) { return nil, errors.New("boom") },
		nil,
	)
	assert.ErrorIs(t, err, flowerr.ServiceUnavailable)
	assert.True(t, m.Failed()[ComponentPostgres])
}

func TestExecuteWithFallback_FailOpen(t *testing.T) {
	m := NewManager(map[Component]Policy{ComponentL3Cache: FailOpen})
	_, err := m.ExecuteWithFallback(ComponentL3Cache,
		func() (interface{}, error) { return nil, errors.New("boom") },
		nil,
	)
	assert.Error(t, err)
}

func TestExecuteWithFallback_DegradedRunsFallback(t *testing.T) {
	m := NewManager(map[Component]Policy{ComponentBan: Degraded})
	result, err := m.ExecuteWithFallback(ComponentBan,
		func() (interface{}, error) { return nil, errors.New("boom") },
		func() (interface{}, error) { return "from-fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "from-fallback", result)
}

func TestExecuteWithFallback_DisabledRunsPrimaryRaw(t *testing.T) {
	m := NewManager(map[Component]Policy{ComponentQuota: FailClosed})
	m.Disable(ComponentQuota)

	boom := errors.New("boom")
	_, err := m.ExecuteWithFallback(ComponentQuota,
		func() (interface{}, error) { return nil, boom },
		nil,
	)
	assert.ErrorIs(t, err, boom)
}

func TestForceFailAndRecover(t *testing.T) {
	m := NewManager(nil)
	m.ForceFail(ComponentConfig)
	assert.True(t, m.Failed()[ComponentConfig])
	m.ForceRecover(ComponentConfig)
	assert.False(t, m.Failed()[ComponentConfig])
}

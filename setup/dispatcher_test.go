package setup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderEnv(t *testing.T) {
	out := renderEnv(map[string]string{
		"CAPSTAN_RUNNER_LABEL": "runner-xyz",
		"CAPSTAN_INSTANCE_ID":  "inst-1",
		"TRICKY":               "a b; rm -rf /",
	})

	// Keys in stable order, values shell-quoted.
	assert.Equal(t,
		"export CAPSTAN_INSTANCE_ID=inst-1\n"+
			"export CAPSTAN_RUNNER_LABEL=runner-xyz\n"+
			"export TRICKY='a b; rm -rf /'\n",
		out)
}

func TestRenderEnvEmpty(t *testing.T) {
	assert.Equal(t, "", renderEnv(nil))
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(Config{User: "ubuntu"})
	assert.Equal(t, 10, d.config.ConnectAttempts)
	assert.Equal(t, 5*time.Second, d.config.DialTimeout)
	assert.NotNil(t, d.log)
}

func TestDispatchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &DispatchError{Address: "198.51.100.1", Step: "connect", Err: cause}

	assert.Contains(t, err.Error(), "connect")
	assert.Contains(t, err.Error(), "198.51.100.1")
	assert.ErrorIs(t, err, cause)
}

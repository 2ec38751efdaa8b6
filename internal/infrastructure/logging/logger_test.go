package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "development", cfg: DevelopmentConfig()},
		{name: "bad level", cfg: Config{Level: "loud", OutputPaths: []string{"stderr"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger.Logger)
		})
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil).Logger)

	l := NewNop()
	assert.Same(t, l, OrNop(l))
}

func TestComponent(t *testing.T) {
	l := NewNop().Component("fetch")
	require.NotNil(t, l)
	l.Info("named logger works")
}

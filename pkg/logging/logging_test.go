package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

func TestNew(t *testing.T) {
	for _, dev := range []bool{false, true} {
		l, err := New("warn", dev)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	}

	_, err := New("chatty", false)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))

	assert.False(t, Nop().Core().Enabled(zapcore.ErrorLevel))
}

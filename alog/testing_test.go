package alog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/uow/alog"
)

func TestTest(t *testing.T) {
	t.Parallel()

	t.Run("nil does panic", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			alog.Test(nil)
		})
	})

	t.Run("default level is debug", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		logger.Log(ctx, alog.LevelDebug, "debug msg")

		assert.Equal(t, alog.LevelDebug, logger.Level())
		logger.Contains("level=UOW:DEBUG")
		logger.Contains("debug msg")
	})

	t.Run("with group", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)

		logger.DebugContext(ctx, "msg 0")
		logger.WithGroup("GROUP").DebugContext(ctx, "msg group", "some", "key")

		logger.Contains("msg 0")
		logger.Contains("GROUP.some=key")
	})
}

func TestTestLogger_Lines(t *testing.T) {
	t.Parallel()

	logger := alog.Test(t)
	logger.DebugContext(ctx, "line 0")
	logger.DebugContext(ctx, "line 1")

	assert.Len(t, logger.Lines(), 2)
	assert.Contains(t, logger.Lines()[0], `level=DEBUG msg="line 0"`)
	assert.Contains(t, logger.Lines()[1], `level=DEBUG msg="line 1"`)
	assert.NotContains(t, logger.String(), "time=")
}

func TestTestLogger_Assertions(t *testing.T) {
	t.Parallel()

	t.Run("empty logger", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(new(testing.T))

		assert.True(t, logger.Empty())
		assert.False(t, logger.NotEmpty())
		assert.True(t, logger.Total(0))
		assert.True(t, logger.NotContains("anything"))
	})

	t.Run("logger with lines", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(new(testing.T))
		logger.InfoContext(ctx, applicationMsg)

		assert.False(t, logger.Empty())
		assert.True(t, logger.NotEmpty())
		assert.True(t, logger.Total(1))
		assert.False(t, logger.Total(2))
		assert.True(t, logger.Contains(applicationMsg))
		assert.False(t, logger.Contains("something else"))
		assert.False(t, logger.NotContains(applicationMsg))
	})

	t.Run("set level", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		logger.SetLevel(alog.LevelInfo)
		logger.Log(ctx, alog.LevelDebug, "hidden")

		logger.Empty()
	})
}

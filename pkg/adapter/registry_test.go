package adapter

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownEngineError_Error(t *testing.T) {
	err := &UnknownEngineError{
		Type:      "oracle",
		Available: []string{"duckdb", "sqlite"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "oracle")
	assert.Contains(t, msg, "[duckdb sqlite]")
	assert.Contains(t, msg, "manual.yaml")
}

func TestRegister(t *testing.T) {
	Register(Engine{Name: "Test_Engine", New: func(_ *slog.Logger) Adapter { return nil }})

	assert.True(t, IsRegistered("test_engine"))
	assert.True(t, IsRegistered("TEST_ENGINE"))
	assert.Contains(t, Engines(), "test_engine")

	e, ok := Lookup("test_engine")
	require.True(t, ok)
	assert.NotNil(t, e.New)
}

func TestEngineForPath(t *testing.T) {
	Register(Engine{Name: "test_columnar", Extensions: []string{".tcol", ".tc"}, New: func(_ *slog.Logger) Adapter { return nil }})

	tests := []struct {
		path string
		want string
	}{
		{"data/ehi.tcol", "test_columnar"},
		{"data/EHI.TC", "test_columnar"},
		{"data/ehi.unknown", DefaultEngine},
		{"data/ehi", DefaultEngine},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EngineForPath(tt.path), tt.path)
	}
}

func TestNewAdapter(t *testing.T) {
	t.Run("empty type", func(t *testing.T) {
		_, err := NewAdapter(Config{}, nil)
		require.Error(t, err)
		assert.Equal(t, "dataset engine not specified", err.Error())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewAdapter(Config{Type: "does_not_exist"}, nil)
		require.Error(t, err)

		var unknown *UnknownEngineError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "does_not_exist", unknown.Type)
	})

	t.Run("factory receives logger", func(t *testing.T) {
		var got *slog.Logger
		Register(Engine{Name: "test_engine_logger", New: func(l *slog.Logger) Adapter {
			got = l
			return nil
		}})
		_, err := NewAdapter(Config{Type: "test_engine_logger"}, nil)
		require.NoError(t, err)
		assert.NotNil(t, got, "nil logger should be replaced with a discard logger")
	})
}

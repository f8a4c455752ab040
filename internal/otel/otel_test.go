package otel

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		Endpoint: "127.0.0.1:4318",
		Headers:  map[string]string{"authorization": "Bearer x"},
		Insecure: true,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}

func TestConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("otel.endpoint", "collector:4318")
	viper.Set("otel.headers", map[string]string{"x-team": "growth"})
	viper.Set("otel.insecure", true)

	assert.Equal(t, Config{
		Endpoint: "collector:4318",
		Headers:  map[string]string{"x-team": "growth"},
		Insecure: true,
	}, ConfigFromViper())
}

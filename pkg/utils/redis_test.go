package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkerScriptInitialized(t *testing.T) {
	assert.NotNil(t, markerReleaseScript)
}

func TestAcquireMarker_ValidatesArguments(t *testing.T) {
	ctx := context.Background()

	_, err := AcquireMarker(ctx, nil, "k", "o", time.Second)
	assert.Error(t, err)

	assert.Error(t, ReleaseMarker(ctx, nil, "k", "o"))
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.EqualError(t, err, "redis addr is required")
}

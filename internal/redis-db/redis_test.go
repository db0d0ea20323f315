package redis_db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedisURL_DockerStyle(t *testing.T) {
	opts, err := ParseRedisURL("redis:6379", false)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Empty(t, opts.Password)
}

func TestParseRedisURL_FullURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@myhost:6380/2", false)
	require.NoError(t, err)
	assert.Equal(t, "myhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestParseRedisURL_PasswordWithoutColon(t *testing.T) {
	opts, err := ParseRedisURL("redis://secret@myhost:6380", false)
	require.NoError(t, err)
	assert.Equal(t, "myhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
}

func TestNewRedisClient_EmptyAddresses(t *testing.T) {
	_, err := NewRedisClient(nil, false)
	assert.Error(t, err)
}

func TestNewRedisClient_SingleInstance(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient([]string{mr.Addr()}, false)
	require.NoError(t, err)
	assert.NotNil(t, client.Client())
	assert.NotNil(t, client.MakeRedisClient())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient([]string{"127.0.0.1:1"}, false)
	assert.Error(t, err)
}

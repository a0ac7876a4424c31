package database

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleProtocolURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u@h/db", "postgres://u@h/db?default_query_exec_mode=simple_protocol"},
		{"postgres://u@h/db?sslmode=disable", "postgres://u@h/db?sslmode=disable&default_query_exec_mode=simple_protocol"},
		{"postgres://u@h/db?default_query_exec_mode=exec", "postgres://u@h/db?default_query_exec_mode=exec"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, simpleProtocolURL(tt.in))
	}
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 50, client.Options().PoolSize)

	_, err = NewRedis("not-a-url")
	assert.Error(t, err)
}

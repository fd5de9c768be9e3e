package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

func TestNewExecutorDefaults(t *testing.T) {
	e := NewExecutor()
	assert.Equal(t, DefaultConnectTimeout, e.connectTimeout)
	assert.Equal(t, DefaultCommandTimeout, e.commandTimeout)

	e = NewExecutor(WithConnectTimeout(5*time.Second), WithCommandTimeout(10*time.Second))
	assert.Equal(t, 5*time.Second, e.connectTimeout)
	assert.Equal(t, 10*time.Second, e.commandTimeout)
}

func TestDialValidation(t *testing.T) {
	e := NewExecutor()
	ctx := context.Background()

	junkKey := filepath.Join(t.TempDir(), "id_junk")
	require.NoError(t, os.WriteFile(junkKey, []byte("not a valid key"), 0644))

	tests := []struct {
		name    string
		spec    *models.RemoteSpec
		wantErr string
	}{
		{
			name:    "nil spec",
			spec:    nil,
			wantErr: "remote spec cannot be nil",
		},
		{
			name:    "empty host",
			spec:    &models.RemoteSpec{User: "bench", KeyFile: junkKey},
			wantErr: "host cannot be empty",
		},
		{
			name:    "empty user",
			spec:    &models.RemoteSpec{Host: "10.0.0.5", KeyFile: junkKey},
			wantErr: "user cannot be empty",
		},
		{
			name:    "empty key file",
			spec:    &models.RemoteSpec{Host: "10.0.0.5", User: "bench"},
			wantErr: "key file cannot be empty",
		},
		{
			name:    "missing key file",
			spec:    &models.RemoteSpec{Host: "10.0.0.5", User: "bench", KeyFile: "/nonexistent/id_ed25519"},
			wantErr: "failed to read key file",
		},
		{
			name:    "unparseable key",
			spec:    &models.RemoteSpec{Host: "10.0.0.5", User: "bench", KeyFile: junkKey},
			wantErr: "failed to parse private key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := e.Dial(ctx, tt.spec)
			require.Error(t, err)
			assert.Nil(t, conn)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAddressDefaultsPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:22", address(&models.RemoteSpec{Host: "10.0.0.5"}))
	assert.Equal(t, "10.0.0.5:2222", address(&models.RemoteSpec{Host: "10.0.0.5", Port: 2222}))
}

func TestRunCommandClosedConnection(t *testing.T) {
	e := NewExecutor()

	_, _, err := e.RunCommand(context.Background(), nil, "echo ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection is nil or closed")

	conn := &Connection{}
	_, _, err = e.RunCommand(context.Background(), conn, "echo ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection is nil or closed")
}

func TestConnectionCloseIdempotent(t *testing.T) {
	conn := &Connection{host: "10.0.0.5"}
	assert.Equal(t, "10.0.0.5", conn.Host())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestReadFileEmptyPath(t *testing.T) {
	e := NewExecutor()
	_, err := e.ReadFile(context.Background(), &Connection{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path cannot be empty")
}

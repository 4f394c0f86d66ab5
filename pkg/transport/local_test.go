package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gosbatch/pkg/errdefs"
)

func waitClosed(t *testing.T, ch Channel) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for !ch.Closed() {
		select {
		case <-ch.Notify():
		case <-deadline:
			t.Fatal("channel did not close")
		}
	}
}

func TestLocal_EchoCompletes(t *testing.T) {
	l := NewLocal(LocalConfig{})
	ch, err := l.OpenChannel(context.Background(), "echo hi; echo oops 1>&2")
	require.NoError(t, err)
	waitClosed(t, ch)

	assert.Equal(t, "hi\n", string(ch.ReadStdout(-1)))
	assert.Equal(t, "oops\n", string(ch.ReadStderr(-1)))
	assert.Equal(t, 0, ch.ExitStatus())
	assert.NoError(t, ch.Err())
	assert.False(t, ch.Pending())
}

func TestLocal_NonZeroExit(t *testing.T) {
	l := NewLocal(LocalConfig{})
	ch, err := l.OpenChannel(context.Background(), "exit 3")
	require.NoError(t, err)
	waitClosed(t, ch)

	assert.Equal(t, 3, ch.ExitStatus())
	assert.NoError(t, ch.Err())
}

func TestLocal_PartialReads(t *testing.T) {
	l := NewLocal(LocalConfig{})
	ch, err := l.OpenChannel(context.Background(), "printf abcdef")
	require.NoError(t, err)
	waitClosed(t, ch)

	assert.Equal(t, "ab", string(ch.ReadStdout(2)))
	assert.True(t, ch.Pending())
	assert.Equal(t, "cdef", string(ch.ReadStdout(-1)))
	assert.Nil(t, ch.ReadStdout(-1))
}

func TestLocal_OpenWithCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal(LocalConfig{}).OpenChannel(ctx, "true")
	require.Error(t, err)
	assert.True(t, errdefs.IsTransport(err))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "open channel", te.Op)
}

func TestLocal_BadShell(t *testing.T) {
	_, err := NewLocal(LocalConfig{Shell: "/nonexistent/shell"}).OpenChannel(context.Background(), "true")
	require.Error(t, err)
	assert.True(t, errdefs.IsTransport(err))
}

func TestSSHConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SSHConfig
		wantErr string
	}{
		{name: "missing host", cfg: SSHConfig{User: "u", Password: "p"}, wantErr: "host"},
		{name: "missing user", cfg: SSHConfig{Host: "h", Password: "p"}, wantErr: "user"},
		{name: "bad port", cfg: SSHConfig{Host: "h", User: "u", Password: "p", Port: 70000}, wantErr: "port"},
		{name: "no credentials", cfg: SSHConfig{Host: "h", User: "u"}, wantErr: "key file or password"},
		{name: "ok", cfg: SSHConfig{Host: "h", User: "u", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPromptAnswerer(t *testing.T) {
	answer := promptAnswerer("secret", "123456")
	got, err := answer("user", "", []string{"Password: ", "TACC Token Code:", "Banner"}, []bool{false, false, false})
	require.NoError(t, err)
	assert.Equal(t, []string{"secret", "123456", ""}, got)

	_, err = promptAnswerer("secret", "")("user", "", []string{"TACC Token Code:"}, []bool{false})
	assert.Error(t, err)
}

package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/baxromumarov/ha-master/pkg/config"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/baxromumarov/ha-master/pkg/transport"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func loadConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, config.BindFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--reap-interval=0s"})
	err := cmd.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "reap-interval")
}

func TestRunSingleNodeAdmitsTransactions(t *testing.T) {
	addr := freeAddr(t)
	cfg := loadConfig(t, "--listen="+addr, "--log-output=stdout", "--log-level=error")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	client := transport.NewHTTPClient(time.Second)
	require.Eventually(t, func() bool {
		h, err := client.HealthCheck(context.Background(), addr)
		return err == nil && h.Accessible
	}, 5*time.Second, 20*time.Millisecond)

	rc := protocol.NewRequestContext(1, 2, 3, nil, 1, 0)
	resp, err := client.InitializeTx(context.Background(), addr, rc)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code)

	resp, err = client.InitializeTx(context.Background(), addr, rc)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeBeginFailed, resp.Code, "a live key cannot be admitted twice")

	role, err := client.GetRole(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, string(protocol.RoleMaster), role.Role)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

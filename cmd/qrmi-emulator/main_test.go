package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/emulator"
	"github.com/qiskit-community/qrmi/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	f, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, emulator.DefaultServerConfig().Port, f.port)
	assert.Equal(t, emulator.DefaultStepPolls, f.stepPolls)

	f, err = parseFlags([]string{"-port", "0", "-ionq-api-key", "k", "-step-polls", "3"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, f.port)
	assert.Equal(t, "k", f.ionqAPIKey)
	assert.Equal(t, 3, f.stepPolls)

	_, err = parseFlags([]string{"-step-polls", "0"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-help"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cliFlags{address: "127.0.0.1", port: 0, stepPolls: 1}, observability.NopLogger(),
			func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("emulator did not start")
	}

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + addr + emulator.IonQPrefix + "/backends/simulator")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 5*time.Second, 10*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "available", doc["status"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("emulator did not stop")
	}
}

func TestRunPortInUse(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	go func() {
		_ = run(ctx, cliFlags{address: "127.0.0.1", port: 0, stepPolls: 1}, observability.NopLogger(),
			func(addr string) { addrCh <- addr })
	}()
	addr := <-addrCh

	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	err = run(ctx, cliFlags{address: "127.0.0.1", port: port, stepPolls: 1}, observability.NopLogger(), nil)
	assert.Error(t, err)
}

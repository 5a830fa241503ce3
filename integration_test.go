package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filedrop/internal/client"
	"filedrop/internal/config"
	"filedrop/internal/errors"
	"filedrop/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a real server on a loopback port until the test ends
func startServer(t *testing.T, workers, queue int) (*server.Server, string) {
	t.Helper()

	cfg := config.Default(true)
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.Workers = workers
	cfg.QueueSize = queue
	cfg.ReadTimeout = 5 * time.Second
	cfg.ReportInterval = 50 * time.Millisecond
	cfg.ShutdownGrace = 2 * time.Second
	require.NoError(t, cfg.Validate())

	srv, err := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return srv, cfg.UploadDir
}

func sendConfig(t *testing.T, addr, path string) *config.Config {
	t.Helper()
	cfg := config.Default(false)
	cfg.ServerAddress = addr
	cfg.FilePath = path
	cfg.Timeout = 10 * time.Second
	cfg.ShowProgress = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeSource(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestEndToEndFileTransfer(t *testing.T) {
	srv, uploads := startServer(t, 4, 4)
	path, data := writeSource(t, "a.bin", 1<<20)

	result, err := client.Send(context.Background(), sendConfig(t, srv.Addr().String(), path))
	require.NoError(t, err)
	assert.Equal(t, client.ExitOK, client.ExitCode(err))
	assert.Equal(t, "a.bin", result.Name)
	assert.Equal(t, int64(1<<20), result.Size)

	stored, err := os.ReadFile(filepath.Join(uploads, "a.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, stored))
}

func TestSecondUploadOfSameNameFails(t *testing.T) {
	srv, uploads := startServer(t, 2, 2)
	path, data := writeSource(t, "same.bin", 4096)
	cfg := sendConfig(t, srv.Addr().String(), path)

	_, err := client.Send(context.Background(), cfg)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRemoteFailure)
	assert.Equal(t, client.ExitRemoteFailure, client.ExitCode(err))

	stored, err := os.ReadFile(filepath.Join(uploads, "same.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestManyClientsDistinctFiles(t *testing.T) {
	const clients = 12
	srv, uploads := startServer(t, 4, clients)

	var wg sync.WaitGroup
	sources := make([][]byte, clients)
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		path, data := writeSource(t, "file-"+string(rune('a'+i))+".bin", 32*1024+i)
		sources[i] = data
		cfg := sendConfig(t, srv.Addr().String(), path)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Send(context.Background(), cfg)
		}(i)
	}
	wg.Wait()

	for i := 0; i < clients; i++ {
		require.NoError(t, errs[i], "client %d", i)
		stored, err := os.ReadFile(filepath.Join(uploads, "file-"+string(rune('a'+i))+".bin"))
		require.NoError(t, err)
		assert.Equal(t, sources[i], stored)
	}
	assert.Equal(t, int64(clients), srv.Stats().Completed)
}

func TestSendToStoppedServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	path, _ := writeSource(t, "orphan.bin", 10)
	_, err = client.Send(context.Background(), sendConfig(t, addr, path))
	require.Error(t, err)
	assert.Equal(t, client.ExitNetwork, client.ExitCode(err))
}

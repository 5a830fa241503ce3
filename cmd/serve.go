package cmd

import (
	"github.com/spf13/cobra"

	"filedrop/internal/config"
	"filedrop/internal/logging"
	"filedrop/internal/protocol"
	"filedrop/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept uploads and store them under the uploads directory",
	Long: `Run the upload server. Each connection carries one file; the server
writes it under --upload-dir, refusing names that already exist, and replies
with a single status byte.

Connections are handled by a fixed pool of --workers goroutines with room for
--queue waiting connections; anything beyond that is closed immediately.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.StringP("listen", "l", config.DefaultListenAddr, "address to listen on")
	flags.StringP("upload-dir", "d", config.DefaultUploadDir, "directory uploads are stored in")
	flags.IntP("workers", "w", config.DefaultWorkers, "number of connection workers")
	flags.Int("queue", config.DefaultQueueSize, "connections that may wait for a worker")
	flags.Int("chunk-size", config.DefaultChunkSize, "payload copy chunk size in bytes")
	flags.Int("buffer-size", config.DefaultBufferSize, "socket read buffer size in bytes")
	flags.Duration("read-timeout", config.DefaultReadTimeout, "idle read timeout per connection")
	flags.Duration("write-timeout", config.DefaultWriteTimeout, "status write timeout")
	flags.Duration("report-interval", config.DefaultReportInterval, "progress report interval")
	flags.Int("reporter-workers", config.DefaultReporterWorkers, "goroutines running progress reports")
	flags.Duration("shutdown-grace", config.DefaultShutdownGrace, "time allowed for in-flight uploads on shutdown")
	flags.Uint32("max-name-bytes", protocol.DefaultMaxNameBytes, "longest accepted file name in bytes")
	flags.Int64("max-file-size", protocol.DefaultMaxFileSize, "largest accepted file in bytes")
}

func runServer() error {
	cfg, err := config.Load(v, true)
	if err != nil {
		return err
	}

	log, closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	srv, err := server.New(cfg, log)
	if err != nil {
		logging.LogError(log, err, "server")
		return &exitError{code: 1, err: err, logged: true}
	}

	ctx, stop := signalContext()
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		logging.LogError(log, err, "server")
		return &exitError{code: 1, err: err, logged: true}
	}
	return nil
}

package cmd

import (
	"github.com/spf13/cobra"

	"filedrop/internal/client"
	"filedrop/internal/config"
	"filedrop/internal/logging"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Upload one file to a filedrop server",
	Long: `Upload a single file. The file is named on the server by its base name.

Exit status:
  0  the server stored the file
  1  the server reported a failure or answered with an unknown status
  2  the connection could not be made or was lost
  3  the file could not be sent as requested (missing, not a regular file,
     name or size out of range)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			v.Set("file", args[0])
		}
		return runClient()
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	flags := sendCmd.Flags()
	flags.StringP("connect", "c", config.DefaultServerAddr, "server address")
	flags.StringP("file", "f", "", "path to the file to send")
	flags.Duration("timeout", config.DefaultTimeout, "dial, write and status timeout")
	flags.Int("chunk-size", config.DefaultChunkSize, "payload copy chunk size in bytes")
	flags.Int("buffer-size", config.DefaultBufferSize, "socket write buffer size in bytes")
	flags.Bool("progress", true, "show a progress bar")
}

func runClient() error {
	cfg, err := config.Load(v, false)
	if err != nil {
		return &exitError{code: client.ExitPrecondition, err: err}
	}

	log, closer, err := setupLogging(cfg)
	if err != nil {
		return &exitError{code: client.ExitPrecondition, err: err}
	}
	defer closer.Close()

	ctx, stop := signalContext()
	defer stop()

	if _, err := client.Send(ctx, cfg); err != nil {
		logging.LogError(log, err, "client")
		return &exitError{code: client.ExitCode(err), err: err, logged: true}
	}
	return nil
}

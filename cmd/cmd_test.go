package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filedrop/internal/client"
)

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("chunk-size", 1024, "")
	flags.Duration("read-timeout", time.Second, "")
	flags.String("config", "", "")
	require.NoError(t, flags.Parse([]string{"--chunk-size", "4096"}))

	vp := viper.New()
	bindFlags(vp, flags)

	assert.Equal(t, 4096, vp.GetInt("chunk_size"))
	assert.Equal(t, time.Second, vp.GetDuration("read_timeout"))
	assert.False(t, vp.IsSet("config"))
}

func TestExecute_SendMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.bin")
	rootCmd.SetArgs([]string{"send", "--connect", "127.0.0.1:1", "--progress=false", missing})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Equal(t, client.ExitPrecondition, Execute())
}

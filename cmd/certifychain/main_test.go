package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/reconcile"
)

func TestInitLogger(t *testing.T) {
	t.Run("Level and format", func(t *testing.T) {
		cfg := &config.Config{Logging: config.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"}}
		logger, err := initLogger(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("Unknown level falls back to info", func(t *testing.T) {
		cfg := &config.Config{Logging: config.LoggingConfig{Level: "verbose"}}
		logger, err := initLogger(cfg)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})
}

func TestCertificateArg(t *testing.T) {
	id, err := certificateArg([]string{"42"})
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := certificateArg([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSingle(t *testing.T) {
	outcomes, err := single(nil, assert.AnError)
	assert.Nil(t, outcomes)
	assert.ErrorIs(t, err, assert.AnError)

	out := &reconcile.Outcome{Op: reconcile.OpIssue}
	outcomes, err = single(out, nil)
	require.NoError(t, err)
	assert.Equal(t, []*reconcile.Outcome{out}, outcomes)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	cmd := versionCommand()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, programName+" "+version+"\n", buf.String())
}

func TestIssueFlags(t *testing.T) {
	cmd := issueCommand(&app{})
	cmd.SetArgs([]string{"--recipient", "Jane", "--document", "a.png", "--document-url", "https://x/a.png"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestPrintHints(t *testing.T) {
	t.Run("Journaled outcome points at retry", func(t *testing.T) {
		var buf bytes.Buffer
		out := &reconcile.Outcome{Op: reconcile.OpRevoke, JournalID: "j-1"}
		printHints(&buf, []*reconcile.Outcome{out}, apperr.New(apperr.KindStoreUnavailable, "api down"))
		assert.Contains(t, buf.String(), "journaled as j-1")
		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	})

	t.Run("Transient failure with nothing journaled", func(t *testing.T) {
		var buf bytes.Buffer
		printHints(&buf, nil, apperr.New(apperr.KindChainUnavailable, "rpc down"))
		assert.Contains(t, buf.String(), "run the command again")
	})

	t.Run("Permanent failure prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		printHints(&buf, nil, apperr.Validation("name is required"))
		printHints(&buf, nil, nil)
		assert.Empty(t, buf.String())
	})
}

func TestEntityAddress(t *testing.T) {
	const key = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	a := &app{cfg: &config.Config{}}
	address, err := a.entityAddress([]string{"0xabc"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", address)

	_, err = a.entityAddress(nil)
	assert.ErrorContains(t, err, "no wallet address given")

	a.cfg.Wallet.PrivateKey = key
	a.cfg.Client.APIURL = "http://localhost:8080"
	address, err = a.entityAddress(nil)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", address)
}

package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	alice = "0x00000000000000000000000000000000000A11CE"
	bob   = "0x0000000000000000000000000000000000000B0B"
)

func TestJournal(t *testing.T) {
	j, err := Open("", zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	t.Run("Record assigns id and timestamps", func(t *testing.T) {
		e := &Entry{Op: "issue", Wallet: alice, State: "chain_unknown", TxHash: "0xabc", CertificateID: 7}
		require.NoError(t, j.Record(e))
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
		assert.Equal(t, "0x00000000000000000000000000000000000a11ce", e.Wallet)

		got, err := j.Get(alice, e.ID)
		require.NoError(t, err)
		assert.Equal(t, uint(7), got.CertificateID)
		assert.Equal(t, "0xabc", got.TxHash)
	})

	t.Run("Pending is scoped by wallet and ordered", func(t *testing.T) {
		time.Sleep(time.Millisecond)
		payload, _ := json.Marshal(map[string]string{"name": "Acme University"})
		require.NoError(t, j.Record(&Entry{Op: "register", Wallet: alice, State: "chain_confirmed", Payload: payload}))
		require.NoError(t, j.Record(&Entry{Op: "revoke", Wallet: bob, State: "chain_confirmed"}))

		entries, err := j.Pending(alice)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "issue", entries[0].Op)
		assert.Equal(t, "register", entries[1].Op)
		assert.JSONEq(t, `{"name":"Acme University"}`, string(entries[1].Payload))

		entries, err = j.Pending(bob)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Update and resolve", func(t *testing.T) {
		entries, err := j.Pending(alice)
		require.NoError(t, err)
		e := entries[0]
		e.Attempts++
		e.State = "chain_confirmed"
		e.OnChainID = "0x01"
		require.NoError(t, j.Update(e))

		got, err := j.Get(alice, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "0x01", got.OnChainID)

		require.NoError(t, j.Resolve(e))
		_, err = j.Get(alice, e.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, j.Update(e), ErrNotFound)
	})

	t.Run("Entry needs op and wallet", func(t *testing.T) {
		assert.Error(t, j.Record(&Entry{Op: "issue"}))
		assert.Error(t, j.Record(&Entry{Wallet: alice}))
	})
}

func TestJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	e := &Entry{Op: "issue", Wallet: alice, State: "chain_unknown", TxHash: "0xabc"}
	require.NoError(t, j.Record(e))
	require.NoError(t, j.Close())

	j, err = Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.Pending(alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
}

func TestBadgerLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newBadgerLogger(zap.New(core))

	l.Errorf("disk %s\n", "full")
	l.Warningf("slow")
	l.Infof("open")
	l.Debugf("tick %d", 1)

	require.Equal(t, 4, logs.Len())
	all := logs.All()
	assert.Equal(t, "disk full", all[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, all[0].Level)
	assert.Equal(t, zapcore.WarnLevel, all[1].Level)
	assert.Equal(t, "tick 1", all[3].Message)
	assert.Equal(t, "badger", all[3].LoggerName)
}

package wal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReplayer struct {
	applied []Op
}

func (r *recordingReplayer) ReplayOp(op Op) error {
	r.applied = append(r.applied, op)
	return nil
}

func opFor(t *testing.T, name string, payload any) Op {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return Op{Name: name, Payload: b}
}

func TestAppendAndSequenceMonotonic(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SyncMode: SyncNone})
	require.NoError(t, err)

	s1, err := w.Append("tx1", KindBegin, nil)
	require.NoError(t, err)
	s2, err := w.Append("tx1", KindCommit, nil)
	require.NoError(t, err)
	assert.Less(t, s1, s2)
	require.NoError(t, w.Close())
}

func TestReplaySkipsAbortedAppliesCommittedAndPending(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)

	_, err = w.Append("committed", KindBegin, nil)
	require.NoError(t, err)
	_, err = w.Append("committed", KindOp, []Op{opFor(t, "put_noun", map[string]string{"id": "a"})})
	require.NoError(t, err)
	_, err = w.Append("committed", KindCommit, nil)
	require.NoError(t, err)

	_, err = w.Append("aborted", KindBegin, nil)
	require.NoError(t, err)
	_, err = w.Append("aborted", KindOp, []Op{opFor(t, "put_noun", map[string]string{"id": "b"})})
	require.NoError(t, err)
	_, err = w.Append("aborted", KindAbort, nil)
	require.NoError(t, err)

	_, err = w.Append("crashed", KindBegin, nil)
	require.NoError(t, err)
	_, err = w.Append("crashed", KindOp, []Op{opFor(t, "put_noun", map[string]string{"id": "c"})})
	require.NoError(t, err)
	// no commit/abort: simulates a crash mid-transaction; per spec §4.2
	// this pending transaction's ops are re-executed on replay too.

	require.NoError(t, w.Close())

	r := &recordingReplayer{}
	require.NoError(t, Replay(dir, r))
	require.Len(t, r.applied, 2)

	ids := make([]string, 0, len(r.applied))
	for _, op := range r.applied {
		assert.Equal(t, "put_noun", op.Name)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(op.Payload, &decoded))
		ids = append(ids, decoded["id"])
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestReplayOnEmptyDirIsNoOp(t *testing.T) {
	r := &recordingReplayer{}
	require.NoError(t, Replay(t.TempDir(), r))
	assert.Empty(t, r.applied)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	w1, err := Open(Config{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	_, err = w1.Append("tx1", KindBegin, nil)
	require.NoError(t, err)
	last, err := w1.Append("tx1", KindCommit, nil)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := Open(Config{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	next, err := w2.Append("tx2", KindBegin, nil)
	require.NoError(t, err)
	assert.Greater(t, next, last)
	require.NoError(t, w2.Close())
}

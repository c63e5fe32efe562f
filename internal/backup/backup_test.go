package backup

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/compression"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/snapshot"
)

type memProvider struct {
	name string
	err  error

	mu      sync.Mutex
	objects map[string][]byte
}

func newMem(name string, err error) *memProvider {
	return &memProvider{name: name, err: err, objects: map[string][]byte{}}
}

func (m *memProvider) Name() string { return m.name }

func (m *memProvider) Put(_ context.Context, path string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

func fixedClock() time.Time { return time.Date(2024, 3, 5, 9, 7, 22, 0, time.UTC) }

func threeUnits(context.Context) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{SCB: []string{"01", "02", "03"}}, nil
}

func TestRun_EndToEndPartialFailure(t *testing.T) {
	ok := newMem("ok", nil)
	bad := newMem("bad", errors.New("disk full"))
	m := provider.NewMulti()
	m.Add(ok)
	m.Add(bad)

	b := New(snapshot.CaptureFunc(threeUnits), compression.None{}, m, Options{Now: fixedClock})
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUpload))

	var me *provider.MultiError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{"bad"}, me.Failed())

	data, found := ok.objects["scb-2024-03-05-09-07-22.json"]
	require.True(t, found)
	s, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{SCB: []string{"01", "02", "03"}}, s)
}

func TestRunResult_Success(t *testing.T) {
	p := newMem("only", nil)
	b := New(snapshot.CaptureFunc(threeUnits), compression.Gzip{}, p, Options{Now: fixedClock})

	res, err := b.RunResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scb-2024-03-05-09-07-22.json.gz", res.Artifact)
	assert.Equal(t, 3, res.Units)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, p.objects[res.Artifact], res.Bytes)
}

func TestRun_CaptureFailureUploadsNothing(t *testing.T) {
	p := newMem("only", nil)
	capErr := errors.New("rpc down")
	b := New(snapshot.CaptureFunc(func(context.Context) (snapshot.Snapshot, error) {
		return snapshot.Snapshot{}, capErr
	}), compression.None{}, p, Options{})

	err := b.Run(context.Background())
	assert.True(t, IsKind(err, KindCapture))
	assert.ErrorIs(t, err, capErr)
	assert.Empty(t, p.objects)
}

type failingCompressor struct{}

func (failingCompressor) Suffix() string { return "x" }

func (failingCompressor) Compress([]byte) ([]byte, error) {
	return nil, &compression.Error{Algorithm: "x", Err: errors.New("broken")}
}

func TestRun_CompressionFailure(t *testing.T) {
	p := newMem("only", nil)
	b := New(snapshot.CaptureFunc(threeUnits), failingCompressor{}, p, Options{})

	err := b.Run(context.Background())
	assert.True(t, IsKind(err, KindCompression))
	var ce *compression.Error
	assert.True(t, errors.As(err, &ce))
	assert.Empty(t, p.objects)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestRun_SerializeFailureIsLogged(t *testing.T) {
	logs := captureLogs(t)
	p := newMem("only", nil)
	b := New(snapshot.CaptureFunc(threeUnits), compression.None{}, p, Options{})
	b.encode = func(snapshot.Snapshot) ([]byte, error) { return nil, errors.New("bad record") }

	err := b.Run(context.Background())
	assert.True(t, IsKind(err, KindSerialize))
	assert.Empty(t, p.objects)
	assert.Contains(t, logs.String(), `"action":"backup_serialize"`)
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"run_id"`)
}

func TestRun_EachRunCapturesAgain(t *testing.T) {
	calls := 0
	p := newMem("only", nil)
	ticks := []time.Time{fixedClock(), fixedClock().Add(time.Second)}
	b := New(snapshot.CaptureFunc(func(context.Context) (snapshot.Snapshot, error) {
		calls++
		return snapshot.Snapshot{SCB: []string{"01"}}, nil
	}), compression.None{}, p, Options{Now: func() time.Time {
		ts := ticks[0]
		ticks = ticks[1:]
		return ts
	}})

	require.NoError(t, b.Run(context.Background()))
	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Len(t, p.objects, 2)
}

func TestRun_Serialized(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	p := newMem("only", nil)
	b := New(snapshot.CaptureFunc(func(context.Context) (snapshot.Snapshot, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return snapshot.Snapshot{}, nil
	}), compression.None{}, p, Options{})

	var wg sync.WaitGroup
	for j := 0; j < 4; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Run(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestError(t *testing.T) {
	err := &Error{Kind: KindUpload, Err: errors.New("x")}
	assert.Equal(t, "backup upload: x", err.Error())
	assert.False(t, IsKind(errors.New("x"), KindUpload))
	assert.False(t, IsKind(err, KindCapture))
}

package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store/sqlite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func newTestCodec(t *testing.T) *invite.Codec {
	t.Helper()
	c, err := invite.NewCodec(testSecret)
	require.NoError(t, err)
	return c
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(s *sqlite.Store) *entitlement.Engine {
	return entitlement.NewEngine(entitlement.DefaultPolicy(), s, validation.New(), discardLogger())
}

func seedProfile(t *testing.T, s *sqlite.Store, p domain.Profile) {
	t.Helper()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	require.NoError(t, s.SaveProfile(context.Background(), &p))
}

func tptr(t time.Time) *time.Time { return &t }

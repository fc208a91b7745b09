package testutils

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	out    *syncBuffer
}

// NewTestHelper creates a test helper whose logger writes debug output into
// an in-memory buffer so tests can assert on diagnostics.
func NewTestHelper(t *testing.T) *TestHelper {
	buf := &syncBuffer{}
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return &TestHelper{
		T:      t,
		Logger: logger,
		out:    buf,
	}
}

// LogOutput returns everything logged so far.
func (h *TestHelper) LogOutput() string {
	return h.out.String()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

package testutils

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards everything unless VITALS_TEST_LOG
// is set, in which case it logs at debug level to stderr
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	if os.Getenv("VITALS_TEST_LOG") != "" {
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}
	logger.SetOutput(io.Discard)
	return logger
}

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Text   *TextAsserter
	JSON   *JSONAsserter
}

// NewTestHelper bundles a quiet logger with both asserters
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: QuietLogger(),
		Text:   NewTextAsserter(t),
		JSON:   NewJSONAsserter(t),
	}
}

package abfall

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is what NewHeap falls back to when Options.Logger is nil:
// the library must never force log output onto an embedder that didn't ask
// for it.
func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

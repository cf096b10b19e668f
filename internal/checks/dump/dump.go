// Package dump appends every policy request to a file for debugging and
// statistics. Its verdicts are never cached.
package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// Type is the module type name used in configuration
const Type = "dump"

// Sink is the data dump module
type Sink struct {
	name     string
	fileName string
	clock    clockwork.Clock
	logger   *zap.Logger

	mu   sync.Mutex
	file io.WriteCloser
}

var _ core.Checkable = (*Sink)(nil)

// New opens the dump file in append mode
func New(name string, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*Sink, error) {
	fileName := cfg.GetString("fileName")
	if fileName == "" {
		return nil, core.NewConfigError(name, "undefined fileName")
	}

	f, err := openFile(fileName)
	if err != nil {
		return nil, core.NewConfigError(name, "%v", err)
	}

	return &Sink{
		name:     name,
		fileName: fileName,
		clock:    clock,
		logger:   logger.Named(name),
		file:     f,
	}, nil
}

func openFile(fileName string) (*os.File, error) {
	f, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file %s: %w", fileName, err)
	}
	return f, nil
}

// Name returns the module instance name
func (s *Sink) Name() string {
	return s.name
}

// CachePolicy disables caching
func (s *Sink) CachePolicy() core.TTLPolicy {
	return core.TTLPolicy{}
}

// Fingerprint is unused since nothing is cached
func (s *Sink) Fingerprint(req core.Request) string {
	return ""
}

// Check appends the request as a block of key=value lines
func (s *Sink) Check(ctx context.Context, req core.Request) core.Verdict {
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "date=%d\n", s.clock.Now().Unix())
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, req[k])
	}
	b.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_, err := io.WriteString(s.file, b.String())
		if err == nil {
			return core.Verdict{Score: 1, Explanation: fmt.Sprintf("%s ok", s.name)}
		}
		s.logger.Warn("Error saving request data, trying to reopen",
			zap.String("file", s.fileName),
			zap.Error(err))
		_ = s.file.Close()
		s.file = nil
	}

	f, err := openFile(s.fileName)
	if err != nil {
		s.logger.Warn("Error reopening dump file", zap.Error(err))
	} else {
		s.file = f
	}
	return core.Verdict{Score: -1, Explanation: fmt.Sprintf("%s fail", s.name)}
}

// Close closes the dump file
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

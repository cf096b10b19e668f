package factory

import (
	"io"

	"github.com/mikey/mail-policy/internal/adapters/policy"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// FrontendFactory creates the policy front ends
type FrontendFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *core.CheckService
}

// NewFrontendFactory creates a new front end factory
func NewFrontendFactory(cfg *config.Config, logger *zap.Logger, service *core.CheckService) *FrontendFactory {
	return &FrontendFactory{
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// CreatePolicyServer creates the Postfix policy server
func (f *FrontendFactory) CreatePolicyServer() (*policy.Server, error) {
	serverCfg, err := f.cfg.GetServer()
	if err != nil {
		return nil, err
	}
	return policy.NewServer(
		f.service,
		f.logger,
		serverCfg.ListenAddress,
		serverCfg.ReadTimeout,
		serverCfg.Header,
	), nil
}

// CreateCLI creates the command-line front end writing to out
func (f *FrontendFactory) CreateCLI(out io.Writer, verbose bool) *policy.CLI {
	return policy.NewCLI(f.service, f.logger, out, verbose)
}

package browser

import (
	"fmt"

	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Config groups the per-backend settings
type Config struct {
	InProcess InProcessConfig
	Script    ScriptConfig
	Remote    RemoteConfig
}

// NewTransport - builds the transport for kind
func NewTransport(kind entities.BackendKind, logger *logrus.Logger, cfg Config) (interfaces.Transport, error) {
	switch kind {
	case entities.BackendInProcess:
		return NewInProcessTransport(logger, cfg.InProcess), nil
	case entities.BackendScriptInjection:
		return NewScriptTransport(logger, cfg.Script, NewExecRunner(), NewExecStarter()), nil
	case entities.BackendRemoteProtocol:
		return NewRemoteTransport(logger, cfg.Remote, NewExecStarter()), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", kind)
}

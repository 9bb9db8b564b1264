package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/datalingua-dev/openclaw-wechat/internal/agent"
	"github.com/datalingua-dev/openclaw-wechat/internal/model"
)

// Dispatcher routes inbound messages to a registered agent and returns the
// agent's reply text. It is the boundary between the transport layer and the
// message-processing collaborator.
type Dispatcher struct {
	Agents       map[string]agent.Agent
	DefaultAgent string
	Logger       *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Agents: make(map[string]agent.Agent),
		Logger: logger,
	}
}

func (d *Dispatcher) RegisterAgent(a agent.Agent) {
	if len(d.Agents) == 0 {
		d.DefaultAgent = a.Name()
	}
	d.Agents[a.Name()] = a
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg *model.InternalMessage) (string, error) {
	d.Logger.Info("Dispatching message",
		zap.String("platform", msg.Platform),
		zap.String("user", msg.UserID),
		zap.String("msg_type", msg.MsgType))

	targetAgent := d.Agents[d.DefaultAgent]
	if targetAgent == nil {
		return "", fmt.Errorf("core: no agent registered")
	}

	return targetAgent.Process(ctx, msg)
}

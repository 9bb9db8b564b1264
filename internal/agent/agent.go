package agent

import (
	"context"

	"github.com/datalingua-dev/openclaw-wechat/internal/model"
)

type Agent interface {
	Name() string
	Process(ctx context.Context, msg *model.InternalMessage) (string, error)
}

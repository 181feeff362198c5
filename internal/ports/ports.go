package ports

import (
	"context"
	"errors"
	"time"

	"autodelta/internal/model"
)

var (
	ErrBridgeUnavailable = errors.New("bridge unavailable")
	ErrUnknownTarget     = errors.New("unknown target")
)

// Perceiver answers questions about the current frame. A target that is not on
// screen is reported with ok == false, never as an error.
type Perceiver interface {
	Locate(ctx context.Context, target string) (model.MatchResult, bool, error)
	ReadText(ctx context.Context, region model.Region, whitelist string) (string, error)
	ReadNumber(ctx context.Context, region model.Region) (int, bool, error)
}

type Toucher interface {
	Tap(ctx context.Context, p model.Point) error
	TouchDown(ctx context.Context, p model.Point, pointer int) error
	TouchUp(ctx context.Context, p model.Point, pointer int) error
	Swipe(ctx context.Context, from, to model.Point, d time.Duration) error
}

type Device interface {
	RestartProcess(ctx context.Context) error
	SetConnectivity(ctx context.Context, enabled bool) error
}

package hedgefund

import (
	"context"
	"sync"

	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

var (
	mu       sync.Mutex
	instance *Services
)

// Default returns the process services, building them from the environment on first use
func Default(ctx context.Context) (*Services, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	s, err := NewServices(ctx, cfg, logger.New(cfg))
	if err != nil {
		return nil, err
	}
	instance = s
	return instance, nil
}

// SetDefault replaces the process services
func SetDefault(s *Services) {
	mu.Lock()
	defer mu.Unlock()
	instance = s
}

// RunHedgeFund runs req on the process services.
// It fails only on bad arguments, cancellation, or a risk gate or portfolio manager failure.
func RunHedgeFund(ctx context.Context, req Request) (*Result, error) {
	s, err := Default(ctx)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, req, nil)
}

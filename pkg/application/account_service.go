// Package application orchestrates the write path (command pipeline) and the
// read-side propagation (projection service). It depends only on the domain
// ports; concrete stores are injected from the infrastructure layer.
package application

import (
	"context"
	"time"

	"github.com/harborfin/ledger/pkg/domain"
)

const (
	// DefaultRetryMax bounds reconstitute-decide-append retries on append
	// conflicts.
	DefaultRetryMax = 3

	// DefaultCallTimeout bounds every individual event-log call.
	DefaultCallTimeout = 5 * time.Second
)

// AccountServiceConfig tunes the command pipeline.
type AccountServiceConfig struct {
	RetryMax    int
	CallTimeout time.Duration
}

// AccountService executes ledger commands: it loads the event history,
// reconstitutes the aggregate, validates the command, and atomically appends
// the resulting events. It performs no projection writes; the read side is
// fed exclusively by the log's change stream. The service returns to the
// caller as soon as the append commits.
type AccountService struct {
	log         domain.EventLog
	logger      domain.Logger
	metrics     MetricsCollector
	retryMax    int
	callTimeout time.Duration
}

// NewAccountService creates the command service. Zero config fields fall
// back to the documented defaults.
func NewAccountService(log domain.EventLog, logger domain.Logger, metrics MetricsCollector, cfg AccountServiceConfig) *AccountService {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &AccountService{
		log:         log,
		logger:      logger,
		metrics:     metrics,
		retryMax:    cfg.RetryMax,
		callTimeout: cfg.CallTimeout,
	}
}

// OpenAccount creates a new account with an opening balance.
func (s *AccountService) OpenAccount(ctx context.Context, cmd domain.OpenAccount) error {
	return s.executeSingle(ctx, cmd)
}

// Deposit credits an active account.
func (s *AccountService) Deposit(ctx context.Context, cmd domain.Deposit) error {
	return s.executeSingle(ctx, cmd)
}

// Withdraw debits an active account.
func (s *AccountService) Withdraw(ctx context.Context, cmd domain.Withdraw) error {
	return s.executeSingle(ctx, cmd)
}

// Close closes an active, zero-balance account.
func (s *AccountService) Close(ctx context.Context, cmd domain.CloseAccount) error {
	return s.executeSingle(ctx, cmd)
}

// Transfer moves funds between two accounts. Both events commit in one
// atomic append, so the pair either lands together or not at all.
func (s *AccountService) Transfer(ctx context.Context, cmd domain.Transfer) error {
	started := time.Now()
	err := s.withRetry(ctx, cmd.CommandName(), func(ctx context.Context) error {
		from, err := s.loadAccount(ctx, cmd.FromAccountID)
		if err != nil {
			return err
		}
		to, err := s.loadAccount(ctx, cmd.ToAccountID)
		if err != nil {
			return err
		}

		events, err := domain.DecideTransfer(cmd, from, to)
		if err != nil {
			return err
		}
		return s.append(ctx, events)
	})
	s.finish(cmd.CommandName(), started, err)
	return err
}

func (s *AccountService) executeSingle(ctx context.Context, cmd domain.Command) error {
	started := time.Now()
	err := s.withRetry(ctx, cmd.CommandName(), func(ctx context.Context) error {
		account, err := s.loadAccount(ctx, cmd.TargetAccount())
		if err != nil {
			return err
		}

		events, err := domain.Decide(cmd, account)
		if err != nil {
			return err
		}
		return s.append(ctx, events)
	})
	s.finish(cmd.CommandName(), started, err)
	return err
}

// withRetry runs one reconstitute-decide-append attempt and repeats it on
// append conflicts, up to retryMax additional attempts. Each retry restarts
// from the history read so the decision sees the state that won the race.
// Domain and transport errors surface immediately.
func (s *AccountService) withRetry(ctx context.Context, command string, attempt func(context.Context) error) error {
	var err error
	for try := 0; try <= s.retryMax; try++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = attempt(ctx)
		if err == nil || !domain.IsConflict(err) {
			return err
		}
		if try < s.retryMax {
			s.metrics.IncrementConflictRetries(command)
			s.logger.Debug("append conflict, retrying from reconstitution",
				"command", command, "attempt", try+1, "error", err)
		}
	}
	s.logger.Warn("append conflict persisted after retries",
		"command", command, "attempts", s.retryMax+1)
	return err
}

func (s *AccountService) loadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	history, err := s.log.ReadStream(callCtx, accountID)
	if err != nil {
		return nil, err
	}
	return domain.LoadAccount(history), nil
}

func (s *AccountService) append(ctx context.Context, events []domain.Event) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.log.AppendAtomic(callCtx, events)
}

func (s *AccountService) finish(command string, started time.Time, err error) {
	s.metrics.RecordCommandDuration(command, time.Since(started))
	if err != nil {
		s.metrics.IncrementCommandErrors(command)
	}
}

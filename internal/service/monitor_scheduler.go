package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// MonitorConfig tunes the polling loop.
type MonitorConfig struct {
	PollInterval    time.Duration // pause between cycles, and backoff after a crashed cycle
	AccountDelay    time.Duration // pause between accounts within a cycle
	SignatureLimit  int           // transfers per history page
	MaxHistoryPages int           // history pages walked per account per cycle
	PageSize        int           // accounts loaded per page
}

const defaultMaxHistoryPages = 20

// CycleReport summarises one pass over all accounts with an address.
type CycleReport struct {
	CycleID  string
	Accounts int
	Credited int
	Failed   int
	Duration time.Duration
}

// AccountReport summarises one account within a cycle.
type AccountReport struct {
	Examined  int
	Credited  int
	Pending   int
	Watermark string
}

// MonitorScheduler drives deposit detection across the account population.
// One cycle runs at a time; Stop lets the running cycle finish.
type MonitorScheduler struct {
	accounts   ports.AccountRepository
	observer   ports.TransferObserver
	attributor ports.DepositAttributor
	notify     ports.NotificationQueue
	watermarks *WatermarkStore
	cfg        MonitorConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger

	// sleep waits for d or until ctx ends. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	abort   context.CancelFunc
}

// NewMonitorScheduler creates a new MonitorScheduler. notify and m may be nil.
func NewMonitorScheduler(
	accounts ports.AccountRepository,
	observer ports.TransferObserver,
	attributor ports.DepositAttributor,
	notify ports.NotificationQueue,
	watermarks *WatermarkStore,
	cfg MonitorConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *MonitorScheduler {
	return &MonitorScheduler{
		accounts:   accounts,
		observer:   observer,
		attributor: attributor,
		notify:     notify,
		watermarks: watermarks,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		sleep:      sleepCtx,
	}
}

// Start launches the background loop. It returns an error if already running.
func (s *MonitorScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("monitor already running")
	}

	runCtx, abort := context.WithCancel(ctx)
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.abort = abort

	go s.loop(runCtx, s.stopCh, s.done)
	s.log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("account_delay", s.cfg.AccountDelay).
		Int("signature_limit", s.cfg.SignatureLimit).
		Int("max_history_pages", s.maxHistoryPages()).
		Msg("deposit monitor started")
	return nil
}

// Stop prevents new cycles and waits for the in-flight one. If ctx ends first,
// the in-flight cycle is cancelled and ctx's error returned.
func (s *MonitorScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done, abort := s.done, s.abort
	s.mu.Unlock()

	defer abort()
	select {
	case <-done:
		s.log.Info().Msg("deposit monitor stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("deposit monitor stop timed out, cancelling in-flight cycle")
		abort()
		<-done
		return ctx.Err()
	}
}

func (s *MonitorScheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := s.cfg.PollInterval
		if _, err := s.safeCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Dur("backoff", wait).Msg("monitor cycle failed")
		}

		if !s.pause(ctx, stop, wait) {
			return
		}
	}
}

// pause sleeps between cycles. It reports false once stop closes or ctx ends.
func (s *MonitorScheduler) pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := s.sleep(waitCtx, d); err != nil {
		return false
	}
	select {
	case <-stop:
		return false
	default:
		return true
	}
}

// safeCycle keeps a panicking cycle from killing the loop.
func (s *MonitorScheduler) safeCycle(ctx context.Context) (report *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor cycle panic: %v", r)
		}
	}()
	return s.RunCycle(ctx)
}

// RunCycle polls every account with a receiving address once, in id order.
// Per-account failures are logged and counted; they never end the cycle.
func (s *MonitorScheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{CycleID: ulid.Make().String()}
	log := s.log.With().Str("cycle_id", report.CycleID).Logger()

	var afterID int64
	first := true
	for {
		page, err := s.accounts.ListWithAddress(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("list accounts after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			account := &page[i]
			afterID = account.ID

			if !first {
				if err := s.sleep(ctx, s.cfg.AccountDelay); err != nil {
					return report, err
				}
			}
			first = false

			report.Accounts++
			ar, err := s.safeMonitorAccount(ctx, account)
			if err != nil {
				report.Failed++
				log.Warn().Err(err).Int64("account_id", account.ID).Str("address", account.Address()).Msg("account skipped this cycle")
				continue
			}
			report.Credited += ar.Credited
		}

		if len(page) < s.cfg.PageSize {
			break
		}
	}

	report.Duration = time.Since(start)
	s.metrics.ObserveCycle(report.Accounts, report.Duration)
	log.Debug().
		Int("accounts", report.Accounts).
		Int("credited", report.Credited).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("monitor cycle finished")
	return report, nil
}

func (s *MonitorScheduler) safeMonitorAccount(ctx context.Context, account *domain.Account) (report *AccountReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.MonitorAccount(ctx, account)
}

// MonitorAccount attributes the account's unseen transfers oldest first and
// advances its watermark to the end of the settled prefix. A "deposit confirmed"
// notification is queued when anything was credited.
//
// History is paged back to the watermark. When more than MaxHistoryPages pages
// are unseen, the watermark stays put and the next cycle continues below the
// oldest transfer walked so far.
func (s *MonitorScheduler) MonitorAccount(ctx context.Context, account *domain.Account) (*AccountReport, error) {
	address := account.Address()
	if address == "" {
		return &AccountReport{}, nil
	}

	mark, _ := s.watermarks.Get(account.ID)
	resume, resuming := s.watermarks.resume(account.ID)
	before := ""
	if resuming {
		before = resume.Before
	}

	unseen, complete, err := s.unseenHistory(ctx, address, mark, before)
	if err != nil {
		return nil, err
	}

	report := &AccountReport{Examined: len(unseen)}
	log := s.log.With().Int64("account_id", account.ID).Str("address", address).Logger()

	var (
		settledEnd  string
		allSettled  = true
		lastBalance int64
	)
	for i := len(unseen) - 1; i >= 0; i-- {
		rec := unseen[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var outcome domain.AttributionOutcome
		if rec.Failed {
			outcome = domain.NoOp("transfer failed on chain")
		} else {
			outcome = s.attributor.Attribute(ctx, rec.Signature, account, address)
		}

		switch outcome.Status {
		case domain.AttributionCredited:
			report.Credited++
			lastBalance = outcome.Balance
		case domain.AttributionNotYetAvailable:
			report.Pending++
		case domain.AttributionFailed:
			log.Error().Str("signature", rec.Signature).Str("reason", outcome.Reason).Msg("attribution failed")
		}

		if allSettled && outcome.Settled() {
			settledEnd = rec.Signature
		} else {
			allSettled = false
		}
	}

	// Newer transfers were walked by earlier cycles of this backfill.
	head := settledEnd
	if allSettled && resuming && resume.Head != "" {
		head = resume.Head
	}

	if complete {
		if head != "" {
			s.watermarks.Set(account.ID, head)
		}
		if resuming {
			s.watermarks.clearResume(account.ID)
			log.Info().Str("watermark", head).Msg("history backfill finished")
		}
	} else {
		oldest := unseen[len(unseen)-1].Signature
		s.watermarks.setResume(account.ID, backfill{Before: oldest, Head: head})
		log.Warn().
			Int("pages", s.maxHistoryPages()).
			Str("resume_before", oldest).
			Msg("unseen history exceeds page cap, continuing next cycle")
	}
	report.Watermark, _ = s.watermarks.Get(account.ID)

	if report.Credited > 0 && s.notify != nil {
		if !s.notify.Enqueue(domain.Notification{
			AccountID:  account.ID,
			ExternalID: account.ExternalID,
			Kind:       domain.NotificationDepositConfirmed,
			Text:       depositConfirmedText(lastBalance),
		}) {
			log.Warn().Msg("deposit notification dropped")
		}
	}
	return report, nil
}

// unseenHistory pages back from before (the newest transfer when empty) until
// mark, the start of the address history, or the page cap. Records are newest
// first. complete is false only when the page cap ended the walk.
func (s *MonitorScheduler) unseenHistory(ctx context.Context, address, mark, before string) ([]domain.TransferRecord, bool, error) {
	limit := s.cfg.SignatureLimit
	var records []domain.TransferRecord
	for page := 0; page < s.maxHistoryPages(); page++ {
		batch, err := s.observer.RecentTransfers(ctx, address, domain.HistoryQuery{
			Before: before,
			Until:  mark,
			Limit:  limit,
		})
		if err != nil {
			return nil, false, err
		}

		for i, r := range batch {
			if mark != "" && r.Signature == mark {
				return append(records, batch[:i]...), true, nil
			}
		}
		records = append(records, batch...)
		if len(batch) == 0 || len(batch) < limit {
			return records, true, nil
		}
		before = batch[len(batch)-1].Signature
	}
	return records, false, nil
}

func (s *MonitorScheduler) maxHistoryPages() int {
	if s.cfg.MaxHistoryPages > 0 {
		return s.cfg.MaxHistoryPages
	}
	return defaultMaxHistoryPages
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

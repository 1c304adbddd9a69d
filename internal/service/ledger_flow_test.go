package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deposit-ledger/internal/adapter/storage/memory"
	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain is an in-process chain: histories per address, settled details per
// signature and spendable balances. Submitted transfers move balances at once.
type fakeChain struct {
	mu        sync.Mutex
	history   map[string][]domain.TransferRecord // newest first
	details   map[string]*domain.TransferDetail
	pending   map[string]bool
	foreign   map[string]bool
	malformed map[string]bool
	balances  map[string]uint64
	submitted int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		history:   make(map[string][]domain.TransferRecord),
		details:   make(map[string]*domain.TransferDetail),
		pending:   make(map[string]bool),
		foreign:   make(map[string]bool),
		malformed: make(map[string]bool),
		balances:  make(map[string]uint64),
	}
}

// receive appends a settled transfer of delta lamports at address.
func (c *fakeChain) receive(address, sig string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pre := c.balances[address]
	post := uint64(int64(pre) + delta)
	c.balances[address] = post
	c.history[address] = append([]domain.TransferRecord{{Signature: sig, Address: address}}, c.history[address]...)
	c.details[sig] = &domain.TransferDetail{Signature: sig, Address: address, PreBalance: pre, PostBalance: post}
}

func (c *fakeChain) setPending(sig string, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[sig] = pending
}

// RecentSignatures pages like the RPC: strictly below Before, stopping short of Until.
func (c *fakeChain) RecentSignatures(ctx context.Context, address string, q domain.HistoryQuery) ([]domain.TransferRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[address]
	if q.Before != "" {
		for i, r := range h {
			if r.Signature == q.Before {
				h = h[i+1:]
				break
			}
		}
	}
	var out []domain.TransferRecord
	for _, r := range h {
		if len(out) == q.Limit || r.Signature == q.Until {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *fakeChain) TransferDetail(ctx context.Context, signature string, address string) (*domain.TransferDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[signature] {
		return nil, domain.ErrNotYetAvailable
	}
	if c.foreign[signature] {
		return nil, domain.ErrNotParticipant
	}
	if c.malformed[signature] {
		return nil, fmt.Errorf("%w: decode transaction", domain.ErrMalformedTransfer)
	}
	d, ok := c.details[signature]
	if !ok {
		return nil, domain.ErrNotYetAvailable
	}
	cp := *d
	return &cp, nil
}

func (c *fakeChain) Balance(ctx context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[address], nil
}

func (c *fakeChain) SubmitTransfer(ctx context.Context, from domain.Keypair, to string, lamports uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[from.PublicKey] < lamports {
		return "", fmt.Errorf("insufficient funds")
	}
	c.submitted++
	c.balances[from.PublicKey] -= lamports
	c.balances[to] += lamports
	return fmt.Sprintf("sweep-%d", c.submitted), nil
}

func (c *fakeChain) AwaitConfirmation(ctx context.Context, signature string) error { return nil }

type countingKeygen struct {
	n atomic.Int64
}

func (g *countingKeygen) Generate() (string, string, error) {
	n := g.n.Add(1)
	return fmt.Sprintf("Addr%040d", n), fmt.Sprintf("secret-%d", n), nil
}

type flowHarness struct {
	store      *memory.Store
	chain      *fakeChain
	keygen     *countingKeygen
	ledger     *LedgerServiceImpl
	registry   *AddressRegistryImpl
	attributor *DepositAttributorImpl
	monitor    *MonitorScheduler
	sweeper    *SweepAgentImpl
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	log := zerolog.Nop()
	store := memory.NewStore()
	chain := newFakeChain()
	keygen := &countingKeygen{}

	enc, err := NewAESEncryptionService("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	settings := NewSettingsService(store.Settings(), log)
	ledger := NewLedgerService(store.Accounts(), store.Ledger(), settings, nil, store.Transactor(), log)
	registry := NewAddressRegistry(store.Accounts(), store.Keystore(), keygen, enc, nil, time.Second, log)
	observer := NewChainObserver(chain, time.Second, nil, log)
	attributor := NewDepositAttributor(store.Ledger(), ledger, observer, nil, 0, nil, log)
	monitor := NewMonitorScheduler(store.Accounts(), observer, attributor, nil, NewWatermarkStore(),
		MonitorConfig{SignatureLimit: 50, PageSize: 10}, nil, log)
	sweeper := NewSweepAgent(store.Accounts(), store.Ledger(), registry, chain, chain, CapAtBalanceReconciler{},
		store.Transactor(), SweepConfig{TreasuryAddress: testTreasury, PageSize: 10}, nil, log)

	return &flowHarness{
		store:      store,
		chain:      chain,
		keygen:     keygen,
		ledger:     ledger,
		registry:   registry,
		attributor: attributor,
		monitor:    monitor,
		sweeper:    sweeper,
	}
}

// account creates an account with a receiving address.
func (h *flowHarness) account(t *testing.T, externalID int64, referrer *int64) (*domain.Account, string) {
	t.Helper()
	ctx := context.Background()
	a, err := h.ledger.EnsureAccount(ctx, externalID, referrer)
	require.NoError(t, err)
	addr, err := h.registry.GetOrCreateAddress(ctx, a.ID)
	require.NoError(t, err)
	a, err = h.ledger.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	return a, addr
}

// assertConserved checks the cached balance equals the sum of the account's entries.
func (h *flowHarness) assertConserved(t *testing.T, accountID int64) int64 {
	t.Helper()
	ctx := context.Background()
	a, err := h.store.Accounts().GetByID(ctx, accountID)
	require.NoError(t, err)
	sum, err := h.store.Ledger().SumByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, sum, a.Balance, "balance of account %d drifted from its entries", accountID)
	return a.Balance
}

func TestDepositFlow_ReplayCreditsOnce(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	referrer, _ := h.account(t, 100, nil)
	refExt := int64(100)
	user, addr := h.account(t, 200, &refExt)
	require.Equal(t, referrer.ID, *user.ReferrerID)

	h.chain.receive(addr, "sigDeposit", 1_000_000_000)

	report, err := h.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)

	// Fresh watermarks replay the whole history, as after a restart.
	h.monitor.watermarks = NewWatermarkStore()
	report, err = h.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Credited)

	assert.Equal(t, int64(1_000_000_000), h.assertConserved(t, user.ID))
	assert.Equal(t, int64(50_000_000), h.assertConserved(t, referrer.ID))

	ref, err := h.store.Accounts().GetByID(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), ref.ReferralEarnings)
}

func TestDepositFlow_ConcurrentAttributionCreditsOnce(t *testing.T) {
	h := newFlowHarness(t)
	user, addr := h.account(t, 1, nil)
	h.chain.receive(addr, "sigRace", 250_000_000)

	const workers = 16
	var (
		wg       sync.WaitGroup
		credited atomic.Int64
		replays  atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := h.attributor.Attribute(context.Background(), "sigRace", user, addr)
			switch out.Status {
			case domain.AttributionCredited:
				credited.Add(1)
			case domain.AttributionAlreadyProcessed:
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), credited.Load())
	assert.Equal(t, int64(workers-1), replays.Load())
	assert.Equal(t, int64(250_000_000), h.assertConserved(t, user.ID))
}

func TestDepositFlow_PendingTransferHoldsWatermark(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()
	user, addr := h.account(t, 7, nil)

	h.chain.receive(addr, "sigA", 100)
	h.chain.receive(addr, "sigB", 200)
	h.chain.receive(addr, "sigC", 400)
	h.chain.setPending("sigB", true)

	report, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Credited)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, "sigA", report.Watermark)
	assert.Equal(t, int64(500), h.assertConserved(t, user.ID))

	h.chain.setPending("sigB", false)
	report, err = h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, 0, report.Pending)
	assert.Equal(t, "sigC", report.Watermark)
	assert.Equal(t, int64(700), h.assertConserved(t, user.ID))
}

func TestDepositFlow_OutgoingAndForeignTransfersAreIgnored(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()
	user, addr := h.account(t, 9, nil)

	h.chain.receive(addr, "sigIn", 5_000)
	h.chain.receive(addr, "sigOut", -2_000)
	h.chain.receive(addr, "sigForeign", 0)
	h.chain.foreign["sigForeign"] = true

	report, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, "sigForeign", report.Watermark)
	assert.Equal(t, int64(5_000), h.assertConserved(t, user.ID))
}

func TestDepositFlow_MalformedTransferDoesNotHoldWatermark(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()
	user, addr := h.account(t, 11, nil)

	h.chain.receive(addr, "sigBroken", 900)
	h.chain.receive(addr, "sigGood", 300)
	h.chain.malformed["sigBroken"] = true

	report, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)
	assert.Zero(t, report.Pending)
	assert.Equal(t, "sigGood", report.Watermark)
	assert.Equal(t, int64(300), h.assertConserved(t, user.ID))
}

func TestDepositFlow_BurstLongerThanOnePageIsFullyCredited(t *testing.T) {
	h := newFlowHarness(t)
	h.monitor.cfg.SignatureLimit = 3
	ctx := context.Background()
	user, addr := h.account(t, 12, nil)

	h.chain.receive(addr, "sig0", 1_000)
	_, err := h.monitor.RunCycle(ctx)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		h.chain.receive(addr, fmt.Sprintf("sig%d", i), 1_000)
	}
	for i := 0; i < 3; i++ {
		_, err = h.monitor.RunCycle(ctx)
		require.NoError(t, err)
	}

	for i := 0; i <= 5; i++ {
		credited, err := h.store.Ledger().ExistsByTag(ctx, fmt.Sprintf("sig%d", i))
		require.NoError(t, err)
		assert.True(t, credited, "sig%d was never credited", i)
	}
	assert.Equal(t, int64(6_000), h.assertConserved(t, user.ID))
	mark, _ := h.monitor.watermarks.Get(user.ID)
	assert.Equal(t, "sig5", mark)
}

func TestDepositFlow_PageCapBackfillsAcrossCycles(t *testing.T) {
	h := newFlowHarness(t)
	h.monitor.cfg.SignatureLimit = 2
	h.monitor.cfg.MaxHistoryPages = 1
	ctx := context.Background()
	user, addr := h.account(t, 13, nil)

	h.chain.receive(addr, "sig0", 1_000)
	_, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		h.chain.receive(addr, fmt.Sprintf("sig%d", i), 1_000)
	}
	h.chain.setPending("sig3", true)

	// Newest page only; the watermark stays below the gap.
	report, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Credited)
	assert.Equal(t, "sig0", report.Watermark)

	// A deposit arriving mid-backfill waits for the next walk from the top.
	h.chain.receive(addr, "sig6", 1_000)

	report, err = h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited, "sig2 credited, sig3 still pending")
	assert.Equal(t, "sig0", report.Watermark)

	report, err = h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, "sig2", report.Watermark, "the pending sig3 caps the watermark")
	assert.Equal(t, int64(5_000), h.assertConserved(t, user.ID))

	h.chain.setPending("sig3", false)
	for i := 0; i < 3; i++ {
		_, err = h.monitor.MonitorAccount(ctx, user)
		require.NoError(t, err)
	}
	mark, _ := h.monitor.watermarks.Get(user.ID)
	assert.Equal(t, "sig6", mark)
	assert.Equal(t, int64(7_000), h.assertConserved(t, user.ID))
}

func TestRegistry_ConcurrentProvisioningYieldsOneAddress(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()
	a, err := h.ledger.EnsureAccount(ctx, 42, nil)
	require.NoError(t, err)

	const workers = 20
	addrs := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, err := h.registry.GetOrCreateAddress(ctx, a.ID)
			assert.NoError(t, err)
			addrs[i] = addr
		}(i)
	}
	wg.Wait()

	for _, addr := range addrs {
		assert.Equal(t, addrs[0], addr)
	}
	assert.Equal(t, int64(1), h.keygen.n.Load())

	kp, err := h.registry.Keypair(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, addrs[0], kp.PublicKey)
	assert.Equal(t, "secret-1", kp.PrivateKey)

	owner, err := h.store.Accounts().GetByAddress(ctx, addrs[0])
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, a.ID, owner.ID)
}

func TestSweepFlow_RetainsFloorAndKeepsLedgerConsistent(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()
	user, addr := h.account(t, 11, nil)

	h.chain.receive(addr, "sigFund", 1_000_000)
	_, err := h.monitor.MonitorAccount(ctx, user)
	require.NoError(t, err)

	const floor = 5_000
	res, err := h.sweeper.Sweep(ctx, user.ID, floor)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusSwept, res.Status)
	assert.Equal(t, uint64(1_000_000-floor), res.Lamports)
	assert.Equal(t, int64(1_000_000-floor), res.Debited)
	assert.True(t, res.Recorded)

	onChain, err := h.chain.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(floor), onChain)
	assert.Equal(t, int64(floor), h.assertConserved(t, user.ID))

	res, err = h.sweeper.Sweep(ctx, user.ID, floor)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusSkipped, res.Status)
	assert.Equal(t, 1, h.chain.submitted)
}

func TestPurchaseFlow_DiscountAndCommission(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	referrer, _ := h.account(t, 500, nil)
	refExt := int64(500)
	buyer, addr := h.account(t, 501, &refExt)

	h.chain.receive(addr, "sigTopUp", 2_000_000)
	_, err := h.monitor.MonitorAccount(ctx, buyer)
	require.NoError(t, err)

	res, err := h.ledger.Purchase(ctx, ports.PurchaseRequest{AccountID: buyer.ID, OrderRef: "ord-1", UnitPrice: 1_000_000, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(950_000), res.Charged)
	assert.Equal(t, int64(50_000), res.Discount)
	assert.Equal(t, int64(50_000), res.Commission)

	// Same order reference cannot be charged twice.
	_, err = h.ledger.Purchase(ctx, ports.PurchaseRequest{AccountID: buyer.ID, OrderRef: "ord-1", UnitPrice: 1_000_000, Quantity: 1})
	assert.Equal(t, "LED_003", appCode(t, err))

	assert.Equal(t, int64(2_000_000-950_000), h.assertConserved(t, buyer.ID))
	// Deposit bonus plus purchase commission.
	assert.Equal(t, int64(100_000+50_000), h.assertConserved(t, referrer.ID))
}

package control

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vietddude/invmon/internal/core/domain"
	"github.com/vietddude/invmon/internal/infra/chain"
	"github.com/vietddude/invmon/internal/invariant"
	"github.com/vietddude/invmon/internal/report"
)

const (
	wBARL    = "0x04c80bb477890f3021f03b068238836ee20aa0b8"
	barl     = "0x3e2324342bf5b8a1dca42915f0489497203d640e"
	exploit  = "0x356e7481b957be0165d6751a49b4b7194aef18d5"
	attackTx = "0xa685928b5102349a5cc50527fec2e03cb136c233505471bdd25afcd7ed99cbeb"
	flashSel = "0x3b30ba59"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1}

func pad(hexStr string) string {
	return strings.Repeat("0", 64-len(hexStr)) + hexStr
}

func flashCall(amount int64) domain.RawCallFrame {
	input := flashSel +
		pad(strings.TrimPrefix(exploit, "0x")) +
		pad(strings.TrimPrefix(barl, "0x")) +
		pad(big.NewInt(amount).Text(16)) +
		pad("80")
	return domain.RawCallFrame{Type: "CALL", From: exploit, To: wBARL, Input: input, GasUsed: "0x100"}
}

// exploitTrace repeats flash() the given number of times from one entry call.
func exploitTrace(t *testing.T, flashes int, amount int64) json.RawMessage {
	t.Helper()
	root := domain.RawCallFrame{Type: "CALL", From: "0xeoa", To: exploit, Input: "0xaaaaaaaa"}
	for i := 0; i < flashes; i++ {
		root.Calls = append(root.Calls, flashCall(amount))
	}
	raw, err := json.Marshal(root)
	require.NoError(t, err)
	return raw
}

func barleyInvariants(t *testing.T) invariant.Invariants {
	t.Helper()
	inv, err := invariant.NewInvariants(invariant.BarleyFinanceProtocol, nil)
	require.NoError(t, err)
	return inv
}

// balances answers BalanceAt from a per-address before/after pair around
// block 100.
func balances(client *chain.MockClient, values map[string][2]int64) {
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, addr string, block uint64) (*big.Int, error) {
			v := values[strings.ToLower(addr)]
			if block < 100 {
				return big.NewInt(v[0]), nil
			}
			return big.NewInt(v[1]), nil
		}).AnyTimes()
}

func newTestMonitor(t *testing.T, client chain.Client, cfg Config) (*Monitor, *report.Reporter) {
	t.Helper()
	inv := barleyInvariants(t)
	rep := report.NewReporter("barley-test", inv.GetProtocol(), inv.GetChain(),
		report.WithTotalRules(len(inv.GetRules())))
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry
	}
	m, err := NewMonitor(cfg, Deps{Client: client, Invariants: inv, Reporter: rep})
	require.NoError(t, err)
	return m, rep
}

func minedMeta(hash string) *domain.TxMeta {
	return &domain.TxMeta{Hash: hash, From: "0xeoa", To: exploit, BlockNumber: 100, GasUsed: 900000, Status: 1}
}

func violationIDs(vs []domain.ViolationDetail) []string {
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.InvariantID)
	}
	return ids
}

func TestNewMonitor_Defaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, _ := newTestMonitor(t, chain.NewMockClient(ctrl), Config{})

	assert.ElementsMatch(t, []string{wBARL, barl}, m.Monitored())
	assert.Equal(t, wBARL, m.pool)
	assert.Equal(t, "ethereum", m.cfg.Chain)
	assert.Equal(t, 1, m.cfg.Workers)

	m2, _ := newTestMonitor(t, chain.NewMockClient(ctrl), Config{
		Contracts: []string{strings.ToUpper(exploit), exploit, " "},
		Pool:      strings.ToUpper(wBARL),
	})
	assert.Equal(t, []string{exploit}, m2.Monitored())
	assert.Equal(t, wBARL, m2.pool)

	_, err := NewMonitor(Config{}, Deps{})
	assert.Error(t, err)
}

func TestMonitor_AnalyzeTransaction_Exploit(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().TransactionMeta(gomock.Any(), attackTx).Return(minedMeta(attackTx), nil)
	client.EXPECT().TraceTransaction(gomock.Any(), attackTx).Return(exploitTrace(t, 20, 990), nil)
	balances(client, map[string][2]int64{
		wBARL: {1000, 10},
		barl:  {500, 500},
	})

	m, rep := newTestMonitor(t, client, Config{})
	violations, err := m.AnalyzeTransaction(context.Background(), attackTx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"barley_pool_utilization",
		"barley_balance_drain",
		"barley_flash_loop",
		"barley_flash_calls",
	}, violationIDs(violations))

	rep.Finalize()
	got := rep.GetReport()
	assert.Equal(t, 1, got.TotalTxMonitored)
	assert.Len(t, got.Violations, 4)
	assert.True(t, got.Summary.AttackDetected)
	assert.Equal(t, 2, got.Summary.CriticalViolations)
	require.NotNil(t, got.TransactionData)
	assert.InDelta(t, 99.0, got.TransactionData.PoolUtilization, 1e-9)
	assert.Equal(t, 20, got.TransactionData.LoopIterations)
}

func TestMonitor_AnalyzeTransaction_Benign(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().TransactionMeta(gomock.Any(), "0xbenign").Return(minedMeta("0xbenign"), nil)
	client.EXPECT().TraceTransaction(gomock.Any(), "0xbenign").Return(exploitTrace(t, 1, 10), nil)
	balances(client, map[string][2]int64{
		wBARL: {1000, 1000},
		barl:  {500, 500},
	})

	m, rep := newTestMonitor(t, client, Config{})
	violations, err := m.AnalyzeTransaction(context.Background(), "0xbenign")
	require.NoError(t, err)
	assert.Empty(t, violations)

	got := rep.GetReport()
	assert.Equal(t, 1, got.TotalTxMonitored)
	assert.Empty(t, got.Violations)
}

func TestMonitor_AnalyzeTransaction_Pending(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	pending := &domain.ChainQueryError{Op: "transaction", Key: "0xpending", Err: domain.ErrPendingTransaction}
	client.EXPECT().TransactionMeta(gomock.Any(), "0xpending").Return(nil, pending)

	m, rep := newTestMonitor(t, client, Config{})
	_, err := m.AnalyzeTransaction(context.Background(), "0xpending")
	assert.ErrorIs(t, err, domain.ErrPendingTransaction)
	assert.Zero(t, rep.GetReport().TotalTxMonitored)
}

func TestMonitor_AnalyzeTransaction_MalformedTrace(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().TransactionMeta(gomock.Any(), "0xbad").Return(minedMeta("0xbad"), nil)
	client.EXPECT().TraceTransaction(gomock.Any(), "0xbad").Return(json.RawMessage(`{"calls":[`), nil)

	m, rep := newTestMonitor(t, client, Config{})
	_, err := m.AnalyzeTransaction(context.Background(), "0xbad")

	var traceErr *domain.TraceError
	assert.ErrorAs(t, err, &traceErr)
	assert.Zero(t, rep.GetReport().TotalTxMonitored)
}

func TestMonitor_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	// transient failure first, then success
	gomock.InOrder(
		client.EXPECT().TransactionMeta(gomock.Any(), "0xflaky").
			Return(nil, &domain.ChainQueryError{Op: "transaction", Key: "0xflaky", Err: errors.New("connection reset by peer")}),
		client.EXPECT().TransactionMeta(gomock.Any(), "0xflaky").Return(minedMeta("0xflaky"), nil),
	)
	client.EXPECT().TraceTransaction(gomock.Any(), "0xflaky").Return(exploitTrace(t, 1, 10), nil)

	// pending is never retried
	client.EXPECT().TransactionMeta(gomock.Any(), "0xpending").
		Return(nil, &domain.ChainQueryError{Op: "transaction", Key: "0xpending", Err: domain.ErrPendingTransaction}).
		Times(1)

	balances(client, map[string][2]int64{wBARL: {1, 1}, barl: {1, 1}})

	failures := NewMemoryFailureStore()
	inv := barleyInvariants(t)
	rep := report.NewReporter("run", inv.GetProtocol(), inv.GetChain())
	m, err := NewMonitor(Config{Workers: 2, Retry: fastRetry}, Deps{
		Client:     client,
		Invariants: inv,
		Reporter:   rep,
		Failures:   failures,
	})
	require.NoError(t, err)

	err = m.Run(context.Background(), []string{"0xflaky", "0xpending"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPendingTransaction)
	assert.Equal(t, 1, rep.GetReport().TotalTxMonitored)

	stored, err := failures.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "0xpending", stored[0].TxHash)
	assert.Equal(t, 1, stored[0].RetryCount)

	_, failed := m.Progress()
	assert.Equal(t, 1, failed)
}

func TestMonitor_RunExhaustsRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().TransactionMeta(gomock.Any(), "0xdown").
		Return(nil, &domain.ChainQueryError{Op: "transaction", Key: "0xdown", Err: errors.New("502 Bad Gateway")}).
		Times(fastRetry.MaxAttempts)

	m, _ := newTestMonitor(t, client, Config{})
	err := m.Run(context.Background(), []string{"0xdown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestMonitor_ScanBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().BlockTransactions(gomock.Any(), uint64(100)).Return([]chain.TxRef{
		{Hash: "0xother", From: "0xeoa", To: "0x000000000000000000000000000000000000dead"},
		{Hash: attackTx, From: "0xeoa", To: strings.ToUpper(wBARL)},
		{Hash: "0xcreate", From: "0xeoa"},
	}, nil)
	client.EXPECT().TransactionMeta(gomock.Any(), attackTx).Return(minedMeta(attackTx), nil)
	client.EXPECT().TraceTransaction(gomock.Any(), attackTx).Return(exploitTrace(t, 20, 990), nil)
	balances(client, map[string][2]int64{wBARL: {1000, 10}, barl: {500, 500}})

	m, rep := newTestMonitor(t, client, Config{Workers: 4})
	require.NoError(t, m.ScanBlock(context.Background(), 100))
	assert.Equal(t, 1, rep.GetReport().TotalTxMonitored)
	assert.True(t, rep.HasCriticalViolations())
}

func TestMonitor_ScanToHead(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(105), nil)
	for _, b := range []uint64{101, 102, 103} {
		client.EXPECT().BlockTransactions(gomock.Any(), b).Return(nil, nil)
	}

	m, _ := newTestMonitor(t, client, Config{Confirmations: 2})
	next, err := m.scanToHead(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, uint64(104), next)

	scanned, failed := m.Progress()
	assert.Equal(t, uint64(103), scanned)
	assert.Zero(t, failed)
}

func TestMonitor_ScanToHeadBlockError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(10), nil)
	client.EXPECT().BlockTransactions(gomock.Any(), uint64(9)).Return(nil, nil)
	client.EXPECT().BlockTransactions(gomock.Any(), uint64(10)).Return(nil, errors.New("header not found"))

	m, _ := newTestMonitor(t, client, Config{})
	next, err := m.scanToHead(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, uint64(10), next)
}

func TestMonitor_WatchStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chain.NewMockClient(ctrl)

	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(50), nil).AnyTimes()
	client.EXPECT().BlockTransactions(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	m, _ := newTestMonitor(t, client, Config{ScanInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	scanned, _ := m.Progress()
	assert.Equal(t, uint64(50), scanned)
}

func TestMemoryFailureStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFailureStore()

	require.NoError(t, s.Add(ctx, &domain.FailedTransaction{TxHash: "0xb", BlockNumber: 20}))
	require.NoError(t, s.Add(ctx, &domain.FailedTransaction{TxHash: "0xa", BlockNumber: 10}))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0xa", all[0].TxHash)
	assert.NotEmpty(t, all[0].ID)

	require.NoError(t, s.MarkResolved(ctx, all[0].ID))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

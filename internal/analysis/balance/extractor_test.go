package balance

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vietddude/invmon/internal/core/domain"
	"github.com/vietddude/invmon/internal/infra/chain"
)

const (
	pool     = "0x04c80bb477890f3021f03b068238836ee20aa0b8"
	attacker = "0x356e7481b957be0165d6751a49b4b7194aef18d5"
)

func word(n int64) string {
	return leftPad(big.NewInt(n).Text(16))
}

func leftPad(hexStr string) string {
	return strings.Repeat("0", 64-len(hexStr)) + hexStr
}

func flashInput(amount *big.Int) string {
	return DefaultFlashSelector +
		leftPad(strings.TrimPrefix(attacker, "0x")) +
		leftPad(strings.TrimPrefix(pool, "0x")) +
		leftPad(amount.Text(16)) +
		word(128)
}

func TestChangeRate(t *testing.T) {
	tests := []struct {
		name          string
		before, after int64
		expected      float64
	}{
		{"doubled", 100, 200, 100},
		{"drained", 100, 5, -95},
		{"unchanged", 100, 100, 0},
		{"from zero", 0, 50, UndefinedGrowthRate},
		{"zero to zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangeRate(big.NewInt(tt.before), big.NewInt(tt.after))
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestChangeRate_LargeBalances(t *testing.T) {
	before, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	after := new(big.Int).Mul(before, big.NewInt(3))
	assert.InDelta(t, 200.0, ChangeRate(before, after), 1e-9)
}

func TestUtilization(t *testing.T) {
	assert.InDelta(t, 95.0, Utilization(big.NewInt(95), big.NewInt(100)), 1e-9)
	assert.InDelta(t, 250.0, Utilization(big.NewInt(5), big.NewInt(2)), 1e-9)
}

func TestExtractor_ExtractBalanceChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)

	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(big.NewInt(1000), nil)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(100)).Return(big.NewInt(10), nil)
	reader.EXPECT().BalanceAt(gomock.Any(), attacker, uint64(99)).Return(big.NewInt(0), nil)
	reader.EXPECT().BalanceAt(gomock.Any(), attacker, uint64(100)).Return(big.NewInt(990), nil)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{Hash: "0xtx", BlockNumber: 100})

	err := e.ExtractBalanceChanges(context.Background(), txData, []string{pool, attacker})
	require.NoError(t, err)

	bc, ok := txData.BalanceOf(pool)
	require.True(t, ok)
	assert.Equal(t, int64(1000), bc.Before.Int64())
	assert.Equal(t, int64(10), bc.After.Int64())
	assert.Equal(t, int64(-990), bc.Difference.Int64())
	assert.InDelta(t, -99.0, bc.ChangeRate, 1e-9)

	bc, ok = txData.BalanceOf(strings.ToUpper(attacker))
	require.True(t, ok)
	assert.Equal(t, UndefinedGrowthRate, bc.ChangeRate)
}

func TestExtractor_GenesisBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(0)).Return(big.NewInt(7), nil).Times(2)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 0})

	require.NoError(t, e.ExtractBalanceChanges(context.Background(), txData, []string{pool}))
	bc, _ := txData.BalanceOf(pool)
	assert.Zero(t, bc.Difference.Sign())
}

func TestExtractor_ChainQueryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	cause := errors.New("missing trie node")

	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(big.NewInt(1), nil)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(100)).Return(nil, cause)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})

	err := e.ExtractBalanceChanges(context.Background(), txData, []string{pool})
	var qerr *domain.ChainQueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, pool, qerr.Key)
	assert.Equal(t, "balance_after", qerr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestExtractor_KeepsReaderQueryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	readerErr := &domain.ChainQueryError{Op: "balance", Key: pool, Err: errors.New("header not found")}

	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(nil, readerErr)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})

	err := e.ExtractBalanceChanges(context.Background(), txData, []string{pool})
	require.Error(t, err)
	assert.Same(t, readerErr, err)
	assert.Equal(t, 1, strings.Count(err.Error(), pool))
}

func TestExtractor_Canceled(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})

	err := e.Enrich(ctx, txData, []string{pool}, pool)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, txData.BalanceChanges)
}

func TestExtractor_ExtractPoolUtilization(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(big.NewInt(100), nil)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})

	// skipped without chain queries
	require.NoError(t, e.ExtractPoolUtilization(context.Background(), txData, "", big.NewInt(5)))
	require.NoError(t, e.ExtractPoolUtilization(context.Background(), txData, pool, nil))
	require.NoError(t, e.ExtractPoolUtilization(context.Background(), txData, pool, new(big.Int)))
	assert.Zero(t, txData.PoolUtilization)

	require.NoError(t, e.ExtractPoolUtilization(context.Background(), txData, pool, big.NewInt(95)))
	assert.InDelta(t, 95.0, txData.PoolUtilization, 1e-9)
	assert.Equal(t, pool, txData.PoolAddress)
}

func TestExtractor_EmptyPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(big.NewInt(0), nil)

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})

	require.NoError(t, e.ExtractPoolUtilization(context.Background(), txData, pool, big.NewInt(95)))
	assert.Zero(t, txData.PoolUtilization)
	assert.Empty(t, txData.PoolAddress)
}

func TestFlashLoanAmount(t *testing.T) {
	amount, _ := new(big.Int).SetString("76200000000000000000000", 10)

	txData := domain.NewTransactionData(domain.TxMeta{})
	txData.CallStack = []domain.CallFrame{
		{Input: "0xaaaaaaaa", Function: "0xaaaaaaaa"},
		{Input: DefaultFlashSelector + "00", Function: DefaultFlashSelector}, // too short
		{Input: flashInput(amount), Function: DefaultFlashSelector},
		{Input: flashInput(big.NewInt(1)), Function: DefaultFlashSelector},
	}

	got := FlashLoanAmount(txData, "0x3B30BA59")
	assert.Equal(t, 0, got.Cmp(amount))

	assert.Zero(t, FlashLoanAmount(txData, "0xdeadbeef").Sign())
	assert.Zero(t, FlashLoanAmount(domain.NewTransactionData(domain.TxMeta{}), DefaultFlashSelector).Sign())
}

func TestFlashLoanAmount_Uint256Max(t *testing.T) {
	maxWord := strings.Repeat("f", 64)
	txData := domain.NewTransactionData(domain.TxMeta{})
	txData.CallStack = []domain.CallFrame{{
		Input:    DefaultFlashSelector + word(1) + word(2) + maxWord,
		Function: DefaultFlashSelector,
	}}

	expected := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, 0, FlashLoanAmount(txData, DefaultFlashSelector).Cmp(expected))
}

func TestExtractor_AnalyzeCallPattern(t *testing.T) {
	e := NewExtractor(nil, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{})
	txData.CallSequence = []string{"flashLoan", "FLASH", "callback", "deposit", "0x3b30ba59"}

	counts := e.AnalyzeCallPattern(txData, []string{"flash", "Callback", "borrow"})
	assert.Equal(t, map[string]int{"flash": 2, "Callback": 1, "borrow": 0}, counts)
}

func TestExtractor_EnrichIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chain.NewMockBalanceReader(ctrl)
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(99)).Return(big.NewInt(100), nil).AnyTimes()
	reader.EXPECT().BalanceAt(gomock.Any(), pool, uint64(100)).Return(big.NewInt(40), nil).AnyTimes()

	e := NewExtractor(reader, Config{}, nil)
	txData := domain.NewTransactionData(domain.TxMeta{BlockNumber: 100})
	txData.CallStack = []domain.CallFrame{{Input: flashInput(big.NewInt(60)), Function: DefaultFlashSelector}}
	txData.CallSequence = []string{DefaultFlashSelector}

	require.NoError(t, e.Enrich(context.Background(), txData, []string{pool}, pool))
	first := *txData.BalanceChanges[pool]
	firstUtil := txData.PoolUtilization

	require.NoError(t, e.Enrich(context.Background(), txData, []string{pool}, pool))
	second := txData.BalanceChanges[pool]

	assert.Len(t, txData.BalanceChanges, 1)
	assert.Equal(t, 0, first.Difference.Cmp(second.Difference))
	assert.Equal(t, first.ChangeRate, second.ChangeRate)
	assert.Equal(t, firstUtil, txData.PoolUtilization)
	assert.InDelta(t, 60.0, txData.PoolUtilization, 1e-9)
	assert.Len(t, txData.CallPatterns, len(DefaultPatterns))
}

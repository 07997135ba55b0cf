package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
)

func TestCreateWalletInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateWalletInput
		wantErr bool
	}{
		{"evm only", CreateWalletInput{EVMAddress: testEVMAddress}, false},
		{"btc only", CreateWalletInput{BTCAddresses: []string{"bc1qabc"}}, false},
		{"both", CreateWalletInput{EVMAddress: testEVMAddress, BTCAddresses: []string{"bc1qabc"}}, false},
		{"nothing", CreateWalletInput{Label: "empty"}, true},
		{"blank btc entries", CreateWalletInput{BTCAddresses: []string{" ", ""}}, true},
		{"bad evm", CreateWalletInput{EVMAddress: "0x1234"}, true},
		{"long label", CreateWalletInput{Label: strings.Repeat("a", 129), EVMAddress: testEVMAddress}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.input
			err := in.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsUserError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateWalletInput_Normalises(t *testing.T) {
	in := CreateWalletInput{
		Label:        "  savings ",
		EVMAddress:   " " + testEVMAddress + "\n",
		BTCAddresses: []string{"bc1qa", " bc1qa", "", "bc1qb"},
	}
	require.NoError(t, in.Validate())
	assert.Equal(t, "savings", in.Label)
	assert.Equal(t, testEVMAddress, in.EVMAddress)
	assert.Equal(t, []string{"bc1qa", "bc1qb"}, in.BTCAddresses)
}

func TestWalletLifecycle(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx := context.Background()

	w, err := f.svc.CreateWallet(ctx, CreateWalletInput{Label: "cold", BTCAddresses: []string{"bc1qcold"}})
	require.NoError(t, err)
	_, err = uuid.Parse(w.ID)
	require.NoError(t, err)

	got, err := f.svc.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "cold", got.Label)

	all, err := f.svc.ListWallets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, f.svc.DeleteWallet(ctx, w.ID))
	_, err = f.svc.GetWallet(ctx, w.ID)
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	err = f.svc.DeleteWallet(ctx, w.ID)
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
}

func TestCreateWallet_Invalid(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	_, err := f.svc.CreateWallet(context.Background(), CreateWalletInput{})
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetHTTPStatusCode(err))

	all, err := f.svc.ListWallets(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListWallets_Empty(t *testing.T) {
	svc := NewPortfolioService(Dependencies{Wallets: newMockWalletRepo()}, Options{})
	all, err := svc.ListWallets(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestDeleteWallet_DropsCachedAllocation(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx := context.Background()
	f.svc.allocCache.SetDefault(f.wallet.ID, []models.Allocation{{Symbol: "BTC"}})

	require.NoError(t, f.svc.DeleteWallet(ctx, f.wallet.ID))
	_, cached := f.svc.allocCache.Get(f.wallet.ID)
	assert.False(t, cached)
}

package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"channeld/config"
	"channeld/core/machine"
	"channeld/core/types"
)

func TestGenesisActionDrawsSeed(t *testing.T) {
	us := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	first, err := genesisAction(5, 100, us)
	require.NoError(t, err)
	second, err := genesisAction(5, 100, us)
	require.NoError(t, err)

	require.Equal(t, types.ChainID(5), first.ChainID)
	require.Equal(t, types.BlockNumber(100), first.BlockNumber)
	require.Equal(t, us, first.OurAddress)
	require.NotEqual(t, types.Hash{}, first.Seed)
	require.NotEqual(t, first.Seed, second.Seed)

	state, _, err := machine.Apply(nil, first)
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(100), state.BlockNumber)
}

func TestNewWebhookRequiresSecret(t *testing.T) {
	t.Setenv("CHANNELD_TEST_HOOK_SECRET", "")
	_, err := newWebhook(config.Webhook{URL: "http://127.0.0.1:1", SecretEnv: "CHANNELD_TEST_HOOK_SECRET"}, nil)
	require.ErrorContains(t, err, "CHANNELD_TEST_HOOK_SECRET")
}

func TestNewWebhook(t *testing.T) {
	t.Setenv("CHANNELD_TEST_HOOK_SECRET", "s3cret")
	hook, err := newWebhook(config.Webhook{URL: "http://127.0.0.1:1", SecretEnv: "CHANNELD_TEST_HOOK_SECRET", PaymentsOnly: true}, nil)
	require.NoError(t, err)
	hook.Close()
}

func TestNewAuthenticatorReadsSecretFromEnv(t *testing.T) {
	t.Setenv("CHANNELD_TEST_INGEST_SECRET", "")
	_, err := newAuthenticator(config.Ingest{AuthSecretEnv: "CHANNELD_TEST_INGEST_SECRET"})
	require.ErrorContains(t, err, "CHANNELD_TEST_INGEST_SECRET")

	t.Setenv("CHANNELD_TEST_INGEST_SECRET", "s3cret")
	auth, err := newAuthenticator(config.Ingest{AuthSecretEnv: "CHANNELD_TEST_INGEST_SECRET", Audience: "channeld"})
	require.NoError(t, err)
	require.NotNil(t, auth)
}

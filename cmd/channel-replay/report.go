package main

import (
	"channeld/core"
	"channeld/core/types"
)

// Report is the YAML summary printed after a replay.
type Report struct {
	Sequence         uint64            `yaml:"sequence"`
	SnapshotSequence uint64            `yaml:"snapshot_sequence"`
	Replayed         uint64            `yaml:"replayed"`
	ChainID          types.ChainID     `yaml:"chain_id"`
	BlockNumber      types.BlockNumber `yaml:"block_number"`
	OurAddress       string            `yaml:"our_address,omitempty"`
	Payments         int               `yaml:"payments"`
	QueuedMessages   int               `yaml:"queued_messages"`
	PendingTxs       int               `yaml:"pending_transactions"`
	Channels         []ChannelReport   `yaml:"channels"`
}

// ChannelReport describes one channel at the replayed sequence.
type ChannelReport struct {
	TokenNetwork       string `yaml:"token_network"`
	ChannelID          uint64 `yaml:"channel_id"`
	Partner            string `yaml:"partner"`
	Status             string `yaml:"status"`
	OurDeposit         string `yaml:"our_deposit"`
	PartnerDeposit     string `yaml:"partner_deposit"`
	OurTransferred     string `yaml:"our_transferred"`
	PartnerTransferred string `yaml:"partner_transferred"`
	OurLocked          string `yaml:"our_locked"`
	PartnerLocked      string `yaml:"partner_locked"`
	OurLocksroot       string `yaml:"our_locksroot"`
	PartnerLocksroot   string `yaml:"partner_locksroot"`
	Capacity           string `yaml:"capacity"`
}

func buildReport(state *types.ChainState, info core.RecoveryInfo) Report {
	report := Report{
		Sequence:         info.Head,
		SnapshotSequence: info.SnapshotSequence,
		Replayed:         info.Replayed,
		Channels:         []ChannelReport{},
	}
	if state == nil {
		return report
	}
	report.ChainID = state.ChainID
	report.BlockNumber = state.BlockNumber
	report.OurAddress = state.OurAddress.Hex()
	report.Payments = len(state.PaymentMapping)
	report.QueuedMessages = len(state.QueuedMessages)
	report.PendingTxs = len(state.PendingTransactions)
	for _, addr := range state.SortedTokenNetworks() {
		tn := state.TokenNetworks[addr]
		for _, id := range tn.SortedChannelIDs() {
			ch := tn.Channels[id]
			report.Channels = append(report.Channels, ChannelReport{
				TokenNetwork:       addr.Hex(),
				ChannelID:          uint64(id),
				Partner:            ch.PartnerAddress().Hex(),
				Status:             string(ch.Status),
				OurDeposit:         ch.OurState.ContractBalance.String(),
				PartnerDeposit:     ch.PartnerState.ContractBalance.String(),
				OurTransferred:     ch.OurState.TransferredAmount().String(),
				PartnerTransferred: ch.PartnerState.TransferredAmount().String(),
				OurLocked:          ch.OurState.LockedAmount().String(),
				PartnerLocked:      ch.PartnerState.LockedAmount().String(),
				OurLocksroot:       ch.OurState.Locksroot().Hex(),
				PartnerLocksroot:   ch.PartnerState.Locksroot().Hex(),
				Capacity:           ch.Capacity().String(),
			})
		}
	}
	return report
}

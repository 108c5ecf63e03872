package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownVariant is returned when decoding an unregistered variant tag.
var ErrUnknownVariant = errors.New("types: unknown variant tag")

var stateChangeTable = map[string]func() StateChange{
	"ActionInitChain":                    func() StateChange { return new(ActionInitChain) },
	"Block":                              func() StateChange { return new(Block) },
	"ContractReceiveTokenNetworkCreated": func() StateChange { return new(ContractReceiveTokenNetworkCreated) },
	"ContractReceiveChannelOpened":       func() StateChange { return new(ContractReceiveChannelOpened) },
	"ContractReceiveChannelDeposit":      func() StateChange { return new(ContractReceiveChannelDeposit) },
	"ContractReceiveChannelWithdraw":     func() StateChange { return new(ContractReceiveChannelWithdraw) },
	"ContractReceiveChannelClosed":       func() StateChange { return new(ContractReceiveChannelClosed) },
	"ContractReceiveUpdateTransfer":      func() StateChange { return new(ContractReceiveUpdateTransfer) },
	"ContractReceiveChannelSettled":      func() StateChange { return new(ContractReceiveChannelSettled) },
	"ContractReceiveChannelBatchUnlock":  func() StateChange { return new(ContractReceiveChannelBatchUnlock) },
	"ContractReceiveSecretReveal":        func() StateChange { return new(ContractReceiveSecretReveal) },
	"ActionInitInitiator":                func() StateChange { return new(ActionInitInitiator) },
	"ActionChannelClose":                 func() StateChange { return new(ActionChannelClose) },
	"ActionChannelWithdraw":              func() StateChange { return new(ActionChannelWithdraw) },
	"ReceiveLockedTransfer":              func() StateChange { return new(ReceiveLockedTransfer) },
	"ReceiveSecretRequest":               func() StateChange { return new(ReceiveSecretRequest) },
	"ReceiveSecretReveal":                func() StateChange { return new(ReceiveSecretReveal) },
	"ReceiveUnlock":                      func() StateChange { return new(ReceiveUnlock) },
	"ReceiveLockExpired":                 func() StateChange { return new(ReceiveLockExpired) },
	"ReceiveWithdrawRequest":             func() StateChange { return new(ReceiveWithdrawRequest) },
	"ReceiveWithdrawConfirmation":        func() StateChange { return new(ReceiveWithdrawConfirmation) },
	"ReceiveProcessed":                   func() StateChange { return new(ReceiveProcessed) },
	"ReceiveDelivered":                   func() StateChange { return new(ReceiveDelivered) },
}

var eventTable = map[string]func() Event{
	"ContractSendChannelClose":                 func() Event { return new(ContractSendChannelClose) },
	"ContractSendChannelUpdateTransfer":        func() Event { return new(ContractSendChannelUpdateTransfer) },
	"ContractSendChannelSettle":                func() Event { return new(ContractSendChannelSettle) },
	"ContractSendChannelWithdraw":              func() Event { return new(ContractSendChannelWithdraw) },
	"ContractSendSecretReveal":                 func() Event { return new(ContractSendSecretReveal) },
	"ContractSendChannelBatchUnlock":           func() Event { return new(ContractSendChannelBatchUnlock) },
	"SendLockedTransfer":                       func() Event { return new(SendLockedTransfer) },
	"SendSecretRequest":                        func() Event { return new(SendSecretRequest) },
	"SendSecretReveal":                         func() Event { return new(SendSecretReveal) },
	"SendUnlock":                               func() Event { return new(SendUnlock) },
	"SendLockExpired":                          func() Event { return new(SendLockExpired) },
	"SendWithdrawRequest":                      func() Event { return new(SendWithdrawRequest) },
	"SendWithdrawConfirmation":                 func() Event { return new(SendWithdrawConfirmation) },
	"SendWithdrawExpired":                      func() Event { return new(SendWithdrawExpired) },
	"SendProcessed":                            func() Event { return new(SendProcessed) },
	"EventPaymentSentSuccess":                  func() Event { return new(EventPaymentSentSuccess) },
	"EventPaymentSentFailed":                   func() Event { return new(EventPaymentSentFailed) },
	"EventPaymentReceivedSuccess":              func() Event { return new(EventPaymentReceivedSuccess) },
	"EventUnlockSuccess":                       func() Event { return new(EventUnlockSuccess) },
	"EventUnlockFailed":                        func() Event { return new(EventUnlockFailed) },
	"EventUnlockClaimSuccess":                  func() Event { return new(EventUnlockClaimSuccess) },
	"EventUnlockClaimFailed":                   func() Event { return new(EventUnlockClaimFailed) },
	"EventRouteFailed":                         func() Event { return new(EventRouteFailed) },
	"ErrorInvalidReceivedLockedTransfer":       func() Event { return new(ErrorInvalidReceivedLockedTransfer) },
	"ErrorInvalidReceivedUnlock":               func() Event { return new(ErrorInvalidReceivedUnlock) },
	"ErrorInvalidReceivedLockExpired":          func() Event { return new(ErrorInvalidReceivedLockExpired) },
	"ErrorInvalidReceivedWithdrawRequest":      func() Event { return new(ErrorInvalidReceivedWithdrawRequest) },
	"ErrorInvalidReceivedWithdrawConfirmation": func() Event { return new(ErrorInvalidReceivedWithdrawConfirmation) },
	"ErrorInvalidSecretRequest":                func() Event { return new(ErrorInvalidSecretRequest) },
	"ErrorInvalidActionWithdraw":               func() Event { return new(ErrorInvalidActionWithdraw) },
	"ErrorInvalidActionInitInitiator":          func() Event { return new(ErrorInvalidActionInitInitiator) },
	"ErrorInvalidActionClose":                  func() Event { return new(ErrorInvalidActionClose) },
	"ErrorUnexpectedReveal":                    func() Event { return new(ErrorUnexpectedReveal) },
	"ErrorInvalidReceivedAck":                  func() Event { return new(ErrorInvalidReceivedAck) },
}

// envelope is the persisted form of a variant.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StateChangeTypes returns every registered state change tag.
func StateChangeTypes() []string { return sortedKeys(stateChangeTable) }

// EventTypes returns every registered event tag.
func EventTypes() []string { return sortedKeys(eventTable) }

// EncodeStateChange serialises a state change as a tagged envelope.
func EncodeStateChange(sc StateChange) ([]byte, error) {
	if sc == nil {
		return nil, fmt.Errorf("types: nil state change")
	}
	tag := sc.StateChangeType()
	if _, ok := stateChangeTable[tag]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, tag)
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("types: encode %s: %w", tag, err)
	}
	return json.Marshal(envelope{Type: tag, Data: data})
}

// DecodeStateChange parses a tagged envelope produced by EncodeStateChange.
func DecodeStateChange(raw []byte) (StateChange, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("types: decode state change envelope: %w", err)
	}
	factory, ok := stateChangeTable[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, env.Type)
	}
	sc := factory()
	if err := json.Unmarshal(env.Data, sc); err != nil {
		return nil, fmt.Errorf("types: decode %s: %w", env.Type, err)
	}
	return sc, nil
}

// EncodeEvent serialises an event as a tagged envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("types: nil event")
	}
	tag := ev.EventType()
	if _, ok := eventTable[tag]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, tag)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("types: encode %s: %w", tag, err)
	}
	return json.Marshal(envelope{Type: tag, Data: data})
}

// DecodeEvent parses a tagged envelope produced by EncodeEvent.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("types: decode event envelope: %w", err)
	}
	factory, ok := eventTable[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, env.Type)
	}
	ev := factory()
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("types: decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// EventList is an ordered list of events that serialises each element as a
// tagged envelope.
type EventList []Event

// MarshalJSON implements json.Marshaler.
func (l EventList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, ev := range l {
		raw, err := EncodeEvent(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *EventList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(EventList, 0, len(raws))
	for _, raw := range raws {
		ev, err := DecodeEvent(raw)
		if err != nil {
			return err
		}
		out = append(out, ev)
	}
	*l = out
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

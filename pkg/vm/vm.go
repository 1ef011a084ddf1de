// Copyright 2025 Certen Protocol
//
// Package vm defines the narrow contract the execution pipeline uses to
// delegate ContractCreate/ContractCall transactions to a bytecode executor,
// plus a deterministic reference implementation.
//
// The production bytecode VM is out of scope (§1 non-goals); only its call
// contract is specified here, grounded on the account-view split the
// prototype's revm adapter (AureumDB/AureumVM) used: the VM never owns
// account state directly, it reads and writes through AccountView.
package vm

import (
	"encoding/hex"

	"github.com/aureum-chain/aureum-node/pkg/crypto"
)

// ZeroAddress is the conventional target of a ContractCreate transaction.
const ZeroAddress = "A0000000000000000000000000000000000000000"

// AccountView is the narrow storage contract the VM reads and writes
// through. Implementations (pkg/storage.Store) never leak their own
// representation across this boundary.
type AccountView interface {
	GetCode(addr20 [20]byte) ([]byte, error)
	SetCode(addr20 [20]byte, code []byte) error
	GetStorageSlot(addr20 [20]byte, slot [32]byte) ([32]byte, error)
	SetStorageSlot(addr20 [20]byte, slot, value [32]byte) error
	GetBalance(addr string) (uint64, error)
	SetBalance(addr string, balance uint64) error
}

// ExecutionResult is the outcome of a VM call.
type ExecutionResult struct {
	Success      bool
	ReturnData   []byte
	ContractAddr string // set only for a successful ContractCreate
}

// VM is implemented by any bytecode executor pluggable behind the pipeline.
type VM interface {
	// Execute runs and commits a state-changing call (ContractCreate when
	// target == ZeroAddress, otherwise ContractCall).
	Execute(view AccountView, caller, target string, data []byte, value uint64) (ExecutionResult, error)
	// Call runs a read-only call against current state; it must not mutate
	// view.
	Call(view AccountView, caller, target string, data []byte, value uint64) (ExecutionResult, error)
}

// DeterministicVM is a minimal reference implementation: ContractCreate
// stores the supplied bytecode at an address derived from it and
// ContractCall is a no-op success against any target with stored code. It
// has no gas metering or instruction interpreter — exactly the scope the
// prototype's placeholder VM covered (store bytecode on create, acknowledge
// calls), generalized behind the AccountView contract.
type DeterministicVM struct{}

// NewDeterministicVM constructs the reference VM.
func NewDeterministicVM() *DeterministicVM { return &DeterministicVM{} }

func (v *DeterministicVM) Execute(view AccountView, caller, target string, data []byte, value uint64) (ExecutionResult, error) {
	if target == ZeroAddress {
		return v.create(view, data)
	}
	return v.call(view, target, data)
}

func (v *DeterministicVM) Call(view AccountView, caller, target string, data []byte, value uint64) (ExecutionResult, error) {
	if target == ZeroAddress {
		return ExecutionResult{Success: false}, nil
	}
	return v.call(view, target, data)
}

func (v *DeterministicVM) create(view AccountView, bytecode []byte) (ExecutionResult, error) {
	digest := crypto.Keccak256(bytecode)
	addr := "A" + hex.EncodeToString(digest[:20])
	addr20, err := parseAddr20(addr)
	if err != nil {
		return ExecutionResult{}, err
	}
	if err := view.SetCode(addr20, bytecode); err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Success: true, ReturnData: []byte(addr), ContractAddr: addr}, nil
}

func (v *DeterministicVM) call(view AccountView, target string, data []byte) (ExecutionResult, error) {
	addr20, err := parseAddr20(target)
	if err != nil {
		return ExecutionResult{Success: false}, nil
	}
	code, err := view.GetCode(addr20)
	if err != nil {
		return ExecutionResult{}, err
	}
	if len(code) == 0 {
		return ExecutionResult{Success: false}, nil
	}
	return ExecutionResult{Success: true, ReturnData: nil}, nil
}

func parseAddr20(addr string) ([20]byte, error) {
	return crypto.ParseAddress(addr)
}

package service

import (
	"fmt"

	"deposit-ledger/config"
	"deposit-ledger/internal/core/ports"
)

// CapAtBalanceReconciler debits the swept amount, but never more than the
// internal balance holds.
type CapAtBalanceReconciler struct{}

func (CapAtBalanceReconciler) Name() string { return config.ReconcileCapAtBalance }

func (CapAtBalanceReconciler) Reconcile(internalBalance int64, swept uint64) int64 {
	if internalBalance <= 0 {
		return 0
	}
	if swept >= uint64(internalBalance) {
		return internalBalance
	}
	return int64(swept)
}

// CustodyOnlyReconciler treats a sweep as moving custody only; balances are untouched.
type CustodyOnlyReconciler struct{}

func (CustodyOnlyReconciler) Name() string { return config.ReconcileCustodyOnly }

func (CustodyOnlyReconciler) Reconcile(int64, uint64) int64 { return 0 }

// NewBalanceReconciler returns the reconciler for a configured policy name.
func NewBalanceReconciler(policy string) (ports.BalanceReconciler, error) {
	switch policy {
	case config.ReconcileCapAtBalance, "":
		return CapAtBalanceReconciler{}, nil
	case config.ReconcileCustodyOnly:
		return CustodyOnlyReconciler{}, nil
	}
	return nil, fmt.Errorf("unknown reconcile policy %q", policy)
}

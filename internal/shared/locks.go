package shared

// ReconcileLockKey is the redis key guarding the ledger reconciliation run.
const ReconcileLockKey = "goodsflow:ledger:reconcile:lock"

package shared

// ReconcileLockKey is the redis key held while a worker reconciles the stock ledger.
const ReconcileLockKey = "stock:reconcile:lock"

// Package wallet defines the custody collaborator contract consumed by the
// decision core and the multi-signature coordinator. Implementations own key
// material and chain connectivity; the core only sees identifiers, balances,
// transfer receipts, and opaque partial signatures.
package wallet

// Package core contains the integration broker domain contracts: tenant
// identity, canonical entities, tenant-scoped store interfaces, the error
// taxonomy and runtime configuration. Adapters and components depend on this
// package; core must not depend on storage, transport or provider adapters.
package core

// Package dappbridge and its sub-packages implement a wallet provider bridge: the object a decentralized application
// talks to when it wants accounts, chain information or signatures, backed by a host that owns the keys.
/*
dappbridge provides you with two microservices:

1) a provider microservice (package provider) that implements the EIP-1193 style provider API for dapps: request,
 legacy send and sendAsync, enable, event subscription and the MetaMask compatibility surface. It is exposed through
 a RESTful API.

2) a host microservice (package host) that answers the requests the provider forwards and keeps the provider state
 (chain and selected account) up to date.

Architecture

The provider and host services communicate via a message broker. Requests the provider cannot answer from its own
state are assigned a unique id, forwarded to the broker and kept pending until the host resolves or rejects them.
Host calls (resolve, reject, initialize and event) flow back through the broker and can also be posted to the
provider /host endpoints. The message broker is implemented as a product agnostic layer (package lib/msg) and is
configured via a JSON config file at service startup.

Provider diagnostics are not written to a local console: every log line is forwarded to the host through the broker.

The provider persists the page flags a dapp inspects to detect a connected wallet. Its layered implementation
(package lib/store) provides a database product agnostic interface with MongoDB, PostgreSQL and Redis backends.
Persistence is optional and best-effort.

A blockchain layer (package lib/block) lets the host answer balance and block queries of the networks indicated in
the JSON config file provided at startup. The host account is derived from a hierarchical deterministic wallet.

The provider service can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Provider

The provider microservice can be started running cmd/provider/main.go. Its state machine (package lib/state) starts
on the configured chain with no account; the host initialize call sets chain and account and emits the
accountsChanged and connect events. Events are replayed to late subscribers with the last payload (package
lib/event). Listener callbacks run one at a time on a single page loop (package lib/loop) and requests are
correlated with host answers by package lib/correlator.

Host

The host microservice can be started running cmd/host/main.go. It announces its account on startup, answers
eth_accounts, eth_chainId, net_version, eth_getBalance, eth_getBlockByNumber and wallet_switchEthereumChain, and
rejects everything else.

*/
package dappbridge

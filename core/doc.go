// Package core holds the credential lifecycle of open platform components and
// the accounts that authorized them.
//
// A ComponentAgent waits for the platform's verify ticket, keeps its component
// access token fresh and owns one AuthorizerAgent per authorizing account.
// Every token is a RefreshableCredential that renews itself ten minutes before
// expiry and shares in-flight fetches between callers. State changes are
// published on an EventBus so storage and application code can observe them.
package core

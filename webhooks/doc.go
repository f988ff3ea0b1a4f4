// Package webhooks receives open platform notifications over HTTP and routes
// them to the owning component agent.
//
// Every delivery is acknowledged with "success" regardless of the dispatch
// outcome; failures are reported on the event bus instead.
package webhooks

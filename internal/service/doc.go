// Package service runs inference batches on behalf of the HTTP API. It holds
// compiled models, dispatches batches through an infer.Dispatcher, persists
// each task outcome as it settles, and publishes batch events to an
// EventBroker for streaming subscribers.
package service

// Package providers holds what the OpenAI and Anthropic adapters share:
// connection settings, HTTP status mapping and the JSON round trip.
package providers

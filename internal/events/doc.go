// Package events publishes transfer lifecycle notifications to downstream
// consumers. Publishers exist for Redis lists, RabbitMQ queues, the
// structured log and an in-memory buffer used in tests.
package events

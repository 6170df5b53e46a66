package redis

// Redis key naming conventions for journal data.
// All keys are prefixed with "docbatch:" to avoid collisions.

const keyPrefix = "docbatch:"

// journalKey returns the Stream key for a batch: docbatch:journal:{batchID}
func journalKey(batchID string) string { return keyPrefix + "journal:" + batchID }

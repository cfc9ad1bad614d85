package redis

// Redis key naming conventions. All keys share a prefix to avoid collisions
// with other applications on the same database.

const keyPrefix = "queuectl:"

// jobKeyPrefix is concatenated with a job ID inside Lua scripts.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the Hash key for a job: queuectl:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// readyKey is the Sorted Set of claimable jobs, scored by created_at.
const readyKey = keyPrefix + "ready"

// scheduledKey is the Sorted Set of pending jobs waiting on next_run_at.
const scheduledKey = keyPrefix + "scheduled"

// stateKeyPrefix is concatenated with a state name inside Lua scripts.
const stateKeyPrefix = keyPrefix + "state:"

// stateKey returns the Set of job IDs in a state: queuectl:state:{state}
func stateKey(state string) string { return stateKeyPrefix + state }

// dlqKey returns the Hash key for a dead letter entry: queuectl:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of dead letter IDs, scored by failed_at.
const dlqIndexKey = keyPrefix + "dlq_index"

// settingsKey is the Hash holding configuration values.
const settingsKey = keyPrefix + "settings"

package redis

import goredis "github.com/redis/go-redis/v9"

// enqueueScript inserts a job Hash unless the key already exists.
//
// KEYS[1] job hash, KEYS[2] state set, KEYS[3] ready zset or scheduled zset.
// ARGV[1] id, ARGV[2] zset score or "" when the job is not pending,
// ARGV[3..] field/value pairs.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[1])
if ARGV[2] ~= '' then
	redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
end
return 1
`)

// claimScript promotes due scheduled jobs to the ready set, then claims
// the ready job with the lowest creation score.
//
// KEYS[1] ready zset, KEYS[2] scheduled zset, KEYS[3] pending set,
// KEYS[4] processing set.
// ARGV[1] now score, ARGV[2] now timestamp, ARGV[3] claimer,
// ARGV[4] job key prefix.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	local created = redis.call('HGET', ARGV[4] .. id, 'created_score')
	if created then
		redis.call('ZADD', KEYS[1], created, id)
	end
end
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
	return false
end
local id = head[1]
local key = ARGV[4] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('HSET', key, 'state', 'processing', 'claimed_by', ARGV[3], 'updated_at', ARGV[2])
redis.call('SREM', KEYS[3], id)
redis.call('SADD', KEYS[4], id)
return id
`)

// transitionScript moves a job to a new state and keeps the indexes in
// step. It returns 0 when the job is missing and -1 when it is not in the
// expected state or not held by the expected claimer.
//
// KEYS[1] job hash, KEYS[2] ready zset, KEYS[3] scheduled zset.
// ARGV[1] id, ARGV[2] state key prefix, ARGV[3] new state,
// ARGV[4] updated_at, ARGV[5] expected state or "",
// ARGV[6] next_run_at mode: "keep", "clear" or a timestamp,
// ARGV[7] next_run_at score when ARGV[6] is a timestamp,
// ARGV[8] expected claimed_by or "".
var transitionScript = goredis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'state')
if not old then
	return 0
end
if ARGV[5] ~= '' and old ~= ARGV[5] then
	return -1
end
if ARGV[8] ~= '' and redis.call('HGET', KEYS[1], 'claimed_by') ~= ARGV[8] then
	return -1
end
redis.call('SREM', ARGV[2] .. old, ARGV[1])
redis.call('SADD', ARGV[2] .. ARGV[3], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'claimed_by', '', 'updated_at', ARGV[4])
if ARGV[6] == 'clear' then
	redis.call('HDEL', KEYS[1], 'next_run_at', 'next_run_score')
elseif ARGV[6] ~= 'keep' then
	redis.call('HSET', KEYS[1], 'next_run_at', ARGV[6], 'next_run_score', ARGV[7])
end
if ARGV[3] == 'pending' then
	local next = redis.call('HGET', KEYS[1], 'next_run_score')
	if next then
		redis.call('ZADD', KEYS[3], next, ARGV[1])
	else
		redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'created_score'), ARGV[1])
	end
end
return 1
`)

// deleteScript removes a job and its index entries. With a claimer in
// ARGV[3] it only deletes a processing job held by that claimer and
// returns -1 otherwise. A missing job returns 0.
//
// KEYS[1] job hash, KEYS[2] ready zset, KEYS[3] scheduled zset.
// ARGV[1] id, ARGV[2] state key prefix, ARGV[3] expected claimed_by or "".
var deleteScript = goredis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'state')
if not old then
	return 0
end
if ARGV[3] ~= '' then
	if old ~= 'processing' or redis.call('HGET', KEYS[1], 'claimed_by') ~= ARGV[3] then
		return -1
	end
end
redis.call('SREM', ARGV[2] .. old, ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

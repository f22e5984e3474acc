package redisq

import "github.com/redis/go-redis/v9"

// claimScript promotes due delayed jobs into the ready zsets, then claims
// the lowest-scored ready job across all requested tags.
//
// KEYS[1] = processing zset; KEYS[2..] = (ready, delayed) pairs per tag.
// ARGV: now_ms, lease_expires_ms, worker_id, job key prefix, status key prefix.
// Returns the claimed job id, or false when nothing is claimable.
var claimScript = redis.NewScript(`
local processing = KEYS[1]
local nowMs = tonumber(ARGV[1])
local leaseMs = tonumber(ARGV[2])
local worker = ARGV[3]
local jobPrefix = ARGV[4]
local statusPrefix = ARGV[5]

local bestId, bestScore, bestReady
for i = 2, #KEYS, 2 do
	local ready = KEYS[i]
	local delayed = KEYS[i+1]

	local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, 100)
	for _, id in ipairs(due) do
		local key = jobPrefix .. id
		if redis.call("EXISTS", key) == 1 then
			local prio = tonumber(redis.call("HGET", key, "priority")) or 0
			local runAt = tonumber(redis.call("HGET", key, "run_at_ms")) or nowMs
			redis.call("ZADD", ready, (100 - prio) * 1e13 + runAt, id)
		end
		redis.call("ZREM", delayed, id)
	end

	local top = redis.call("ZRANGE", ready, 0, 0, "WITHSCORES")
	if top[1] and (not bestScore or tonumber(top[2]) < bestScore) then
		bestId, bestScore, bestReady = top[1], tonumber(top[2]), ready
	end
end

if not bestId then
	return false
end

redis.call("ZREM", bestReady, bestId)
redis.call("ZADD", processing, leaseMs, bestId)

local key = jobPrefix .. bestId
local prev = redis.call("HGET", key, "status")
redis.call("HSET", key,
	"status", "processing",
	"locked_by", worker,
	"lease_expires_at_ms", leaseMs,
	"updated_at_ms", nowMs)
if prev then
	redis.call("ZREM", statusPrefix .. prev, bestId)
end
redis.call("ZADD", statusPrefix .. "processing", nowMs, bestId)
return bestId
`)

// finishScript completes or dead-letters a processing job after verifying
// lease ownership.
//
// KEYS[1] = job key, KEYS[2] = processing zset, KEYS[3] = status key prefix.
// ARGV: job_id, worker_id, now_ms, target status, last_error, incr_attempts.
// Returns 1 on success, -1 on lease conflict, -2 when the job is gone.
var finishScript = redis.NewScript(`
local key = KEYS[1]
local processing = KEYS[2]
local statusPrefix = KEYS[3]
local id = ARGV[1]
local worker = ARGV[2]
local nowMs = tonumber(ARGV[3])
local target = ARGV[4]
local lastErr = ARGV[5]

if redis.call("EXISTS", key) == 0 then
	return -2
end
if redis.call("HGET", key, "status") ~= "processing" or redis.call("HGET", key, "locked_by") ~= worker then
	return -1
end

if ARGV[6] == "1" then
	redis.call("HINCRBY", key, "attempts", 1)
end
redis.call("HSET", key,
	"status", target,
	"locked_by", "",
	"lease_expires_at_ms", 0,
	"last_error", lastErr,
	"updated_at_ms", nowMs)
redis.call("ZREM", processing, id)
redis.call("ZREM", statusPrefix .. "processing", id)
redis.call("ZADD", statusPrefix .. target, nowMs, id)
return 1
`)

// retryScript moves a processing job back to retrying with a new run_at,
// after verifying lease ownership. The job lands in its tag's delayed zset
// so the next claim promotes it once run_at is due.
//
// KEYS[1] = job key, KEYS[2] = processing zset, KEYS[3] = delayed zset,
// KEYS[4] = status key prefix.
// ARGV: job_id, worker_id, now_ms, run_at_ms, last_error.
// Returns 1 on success, -1 on lease conflict, -2 when the job is gone.
var retryScript = redis.NewScript(`
local key = KEYS[1]
local processing = KEYS[2]
local delayed = KEYS[3]
local statusPrefix = KEYS[4]
local id = ARGV[1]
local worker = ARGV[2]
local nowMs = tonumber(ARGV[3])
local runAtMs = tonumber(ARGV[4])
local lastErr = ARGV[5]

if redis.call("EXISTS", key) == 0 then
	return -2
end
if redis.call("HGET", key, "status") ~= "processing" or redis.call("HGET", key, "locked_by") ~= worker then
	return -1
end

redis.call("HINCRBY", key, "attempts", 1)
redis.call("HSET", key,
	"status", "retrying",
	"locked_by", "",
	"lease_expires_at_ms", 0,
	"run_at_ms", runAtMs,
	"last_error", lastErr,
	"updated_at_ms", nowMs)
redis.call("ZREM", processing, id)
redis.call("ZADD", delayed, runAtMs, id)
redis.call("ZREM", statusPrefix .. "processing", id)
redis.call("ZADD", statusPrefix .. "retrying", nowMs, id)
return 1
`)

// cancelScript cancels a job that has not started running. Processing jobs
// are left untouched so a live worker keeps its lease.
//
// KEYS[1] = job key, KEYS[2] = ready zset, KEYS[3] = delayed zset,
// KEYS[4] = status key prefix.
// ARGV: job_id, now_ms.
// Returns 1 on success, -1 when not cancellable, -2 when the job is gone.
var cancelScript = redis.NewScript(`
local key = KEYS[1]
local ready = KEYS[2]
local delayed = KEYS[3]
local statusPrefix = KEYS[4]
local id = ARGV[1]
local nowMs = tonumber(ARGV[2])

if redis.call("EXISTS", key) == 0 then
	return -2
end
local status = redis.call("HGET", key, "status")
if status ~= "available" and status ~= "retrying" then
	return -1
end

redis.call("HSET", key, "status", "cancelled", "updated_at_ms", nowMs)
redis.call("ZREM", ready, id)
redis.call("ZREM", delayed, id)
redis.call("ZREM", statusPrefix .. status, id)
redis.call("ZADD", statusPrefix .. "cancelled", nowMs, id)
return 1
`)

// reapScript returns expired leases to circulation. Each expired job goes
// back to available with its reclaim counter bumped, scored into its tag's
// ready zset at its original run_at.
//
// KEYS[1] = processing zset.
// ARGV: now_ms, job key prefix, status key prefix, ready key prefix.
// Returns the number of reclaimed jobs.
var reapScript = redis.NewScript(`
local processing = KEYS[1]
local nowMs = tonumber(ARGV[1])
local jobPrefix = ARGV[2]
local statusPrefix = ARGV[3]
local readyPrefix = ARGV[4]

local expired = redis.call("ZRANGEBYSCORE", processing, "-inf", nowMs, "LIMIT", 0, 100)
local count = 0
for _, id in ipairs(expired) do
	local key = jobPrefix .. id
	if redis.call("EXISTS", key) == 1 then
		local tag = redis.call("HGET", key, "tag")
		local prio = tonumber(redis.call("HGET", key, "priority")) or 0
		local runAt = tonumber(redis.call("HGET", key, "run_at_ms")) or nowMs
		redis.call("HINCRBY", key, "reclaims", 1)
		redis.call("HSET", key,
			"status", "available",
			"locked_by", "",
			"lease_expires_at_ms", 0,
			"updated_at_ms", nowMs)
		redis.call("ZADD", readyPrefix .. tag, (100 - prio) * 1e13 + runAt, id)
		redis.call("ZREM", statusPrefix .. "processing", id)
		redis.call("ZADD", statusPrefix .. "available", nowMs, id)
		count = count + 1
	end
	redis.call("ZREM", processing, id)
end
return count
`)

// requeueScript resets a stale job to available for immediate pickup,
// provided its status still matches one of the expected values.
//
// KEYS[1] = job key, KEYS[2] = ready zset, KEYS[3] = delayed zset,
// KEYS[4] = status key prefix.
// ARGV: job_id, now_ms, then one expected status per remaining arg.
// Returns 1 when requeued, 0 when the status no longer matches.
var requeueScript = redis.NewScript(`
local key = KEYS[1]
local ready = KEYS[2]
local delayed = KEYS[3]
local statusPrefix = KEYS[4]
local id = ARGV[1]
local nowMs = tonumber(ARGV[2])

if redis.call("EXISTS", key) == 0 then
	return 0
end
local status = redis.call("HGET", key, "status")
local matched = false
for i = 3, #ARGV do
	if status == ARGV[i] then
		matched = true
	end
end
if not matched then
	return 0
end

local prio = tonumber(redis.call("HGET", key, "priority")) or 0
redis.call("HSET", key,
	"status", "available",
	"attempts", 0,
	"run_at_ms", nowMs,
	"locked_by", "",
	"lease_expires_at_ms", 0,
	"updated_at_ms", nowMs)
redis.call("ZREM", delayed, id)
redis.call("ZADD", ready, (100 - prio) * 1e13 + nowMs, id)
redis.call("ZREM", statusPrefix .. status, id)
redis.call("ZADD", statusPrefix .. "available", nowMs, id)
return 1
`)

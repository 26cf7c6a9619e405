package redis

const (
	// incrementCountersScript atomically adds counter deltas to a hash and
	// records the hash in its date indexes.
	incrementCountersScript = `
local counters_key = KEYS[1]   -- keytrack:daily:{date} | keytrack:hourly:{date}:{hour} | keytrack:note:{date}:{note}
local index_key = KEYS[2]      -- keytrack:hourly:index:{date} | keytrack:notes:index:{date}
local dates_key = KEYS[3]      -- keytrack:dates

local member = ARGV[1]
local date = ARGV[2]
local date_score = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

-- Remaining args are (field, kind, value) triples
local i = 5
while i + 2 <= #ARGV do
  local field = ARGV[i]
  local kind = ARGV[i + 1]
  local value = ARGV[i + 2]
  if kind == 'f' then
    redis.call('HINCRBYFLOAT', counters_key, field, value)
  elseif kind == 'i' then
    redis.call('HINCRBY', counters_key, field, value)
  else
    redis.call('HSET', counters_key, field, value)
  end
  i = i + 3
end

if member ~= '' then
  redis.call('SADD', index_key, member)
end
redis.call('ZADD', dates_key, date_score, date)

if ttl_seconds > 0 then
  redis.call('EXPIRE', counters_key, ttl_seconds)
  if member ~= '' then
    redis.call('EXPIRE', index_key, ttl_seconds)
  end
end

return 'OK'
`

	// upsertSessionScript atomically stores a practice session and its indexes
	upsertSessionScript = `
local session_key = KEYS[1]    -- keytrack:session:{id}
local sessions_key = KEYS[2]   -- keytrack:sessions
local date_key = KEYS[3]       -- keytrack:sessions:date:{date}

local id = ARGV[1]
local date = ARGV[2]
local started_at = ARGV[3]
local ended_at = ARGV[4]
local seconds = ARGV[5]
local score = tonumber(ARGV[6])
local ttl_seconds = tonumber(ARGV[7])

redis.call('HSET', session_key,
  'id', id,
  'date', date,
  'started_at', started_at,
  'ended_at', ended_at,
  'seconds', seconds
)

redis.call('ZADD', sessions_key, score, id)
redis.call('ZADD', date_key, score, id)

if ttl_seconds > 0 then
  redis.call('EXPIRE', session_key, ttl_seconds)
  redis.call('EXPIRE', date_key, ttl_seconds)
end

return 'OK'
`
)

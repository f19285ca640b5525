package sqlinline

const QInsertUsageEvent = `--sql d3c06f18-72ae-4b95-8c40-e51a9d2b7f63
insert into usage_events (id, job_id, provider, cost, duration_ms, success, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::numeric, $5::bigint, $6::boolean, $7::timestamptz);
`

const QAggregateUsage = `--sql 1b94e5d7-08cf-4326-a7d1-90fe36c2a885
select provider,
       count(*) as total,
       count(*) filter (where success) as successes,
       coalesce(sum(cost), 0) as total_cost,
       coalesce(avg(duration_ms), 0) as avg_duration_ms
from usage_events
where created_at >= $1::timestamptz
  and created_at < $2::timestamptz
group by provider
order by total_cost desc;
`

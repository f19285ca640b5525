package sqlinline

const QInsertJob = `--sql 7c2a41de-9b3f-4d8a-9f1c-6e0b82a4d515
insert into jobs (id, owner_id, type, status, image_key, style, platforms, budget_tier, options_json)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text[], $8::text, coalesce($9::jsonb, '{}'::jsonb));
`

const QUpdateJobStatus = `--sql b6f8d021-3c57-4aa9-8e64-1f9dc7a0b3e2
update jobs
set status = $2::text,
    updated_at = now(),
    error_message = coalesce($3::text, error_message)
where id = $1::uuid;
`

const QSelectJobByID = `--sql 2de9c774-51ab-4f02-bd38-90a6e15c8f47
select id, owner_id, type, status, image_key, style, platforms, budget_tier, options_json, error_message, created_at, updated_at
from jobs
where id = $1::uuid;
`

const QClaimNextJob = `--sql 98b3ef50-2d41-47c6-a19e-5d7f0c463ab8
with next_job as (
    select id
    from jobs
    where status = 'created'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update jobs
    set status = 'running', updated_at = now()
    where id in (select id from next_job)
    returning id, owner_id, type, status, image_key, style, platforms, budget_tier, options_json, error_message, created_at, updated_at
)
select * from updated;
`

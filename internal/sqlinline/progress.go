package sqlinline

const QUpsertProgress = `--sql 4a17c9e2-86bd-4f53-b0a1-3e28d6f47c90
insert into progress_records (job_id, owner_id, status, percentage, record_json, updated_at)
values ($1::uuid, $2::text, $3::text, $4::double precision, $5::jsonb, now())
on conflict (job_id) do update
set status = excluded.status,
    percentage = excluded.percentage,
    record_json = excluded.record_json,
    updated_at = now();
`

const QSelectProgress = `--sql e05b2d68-1f94-42c7-8a3d-b67c50e1f2a4
select record_json
from progress_records
where job_id = $1::uuid;
`

const QDeleteCompletedProgressBefore = `--sql 6fd84a31-c05e-49b2-9716-2a8be3d0c457
delete from progress_records
where status in ('completed', 'failed')
  and updated_at < $1::timestamptz;
`

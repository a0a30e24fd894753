package main

// apmverify load tests an APM pipeline end to end and checks what reached
// Elasticsearch.
//
// A run cleans the index pattern once, then repeats the same batch --iters
// times. Each batch goes through three stages, strictly one after the other:
//
// - dispatch: every endpoint gets events_no GET requests, at most --maxclients
// in flight at a time. A single driving loop counts completions down from the
// total; the first response that is not --status stops the loop, cancels the
// requests still in flight and fails the run.
//
// - verify: the index is refreshed and count queries are polled, with a
// constant backoff, until they reach the expected number or --maxwait runs
// out. Counts are checked for all transactions, all spans, every span name and
// every endpoint, and the per-endpoint sums must equal the totals. Counts
// grow with every batch since the index is only cleaned at the start.
//
// - validate: a sample of each endpoint's transactions is fetched and every
// document is checked: processor, duration, timestamp freshness, result,
// request context, service and agent fields, and finally its spans, including
// their stack traces.
//
// Any failure is fatal; there are no retries beyond the count polling.
//
// Supported apps are flask_app and django_app (agent elasticapm-python) and
// express_app (agent nodejs). Any other app name is rejected at startup.

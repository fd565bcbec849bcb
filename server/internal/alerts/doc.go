// Package alerts turns agent delivery counters into alerts.
//
// Rules are "field op value" conditions over the latest scrape of each agent
// (up, recorded, delivered, abandoned, abandoned_pct, retries, in_flight).
// A rule fires once per agent, stays active until the condition clears, and
// does not re-fire within its cooldown. Fire and resolve transitions are
// posted to Slack, Teams, PagerDuty or plain HTTP webhooks.
package alerts

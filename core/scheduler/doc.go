// Package scheduler turns the registered jobs into a solver request for one
// planning horizon. It expands recurring jobs into one box per occurrence,
// drops jobs that cannot run inside the horizon, deducts today's elapsed run
// time from the job budgets and reports loads that are already running so
// the solver can account for their draw.
package scheduler

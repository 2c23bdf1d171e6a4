// Package workflow runs one create/list/update/delete iteration against a
// CRUD resource on behalf of a virtual user.
//
// Each step is an HTTP call through a [Transport] followed by a check on the
// response. Outcomes are recorded in a metrics registry under the names
// post_duration, get_duration, put_duration, delete_duration, success_rate
// and errors, and every call is also fed to the registry's request collector.
//
// A failed create ends the iteration early. List, update and delete run
// independently of each other; update and delete are skipped when the shared
// ID pool is empty.
package workflow

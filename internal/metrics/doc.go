// Package metrics provides the thread-safe accumulators used during a load test run.
//
// Three primitive metric kinds mirror what a workflow records:
//   - [Counter]: a running int64 total (e.g. "errors")
//   - [Rate]: the fraction of true outcomes (e.g. "success_rate")
//   - [Trend]: the full distribution of observed durations (e.g. "post_duration")
//
// A [Registry] owns named metrics for the lifetime of one run:
//
//	reg := metrics.NewRegistry(metrics.NewCollector())
//	errs, err := reg.Counter("errors")
//	if err != nil {
//		return err // name taken by a Rate or Trend
//	}
//	errs.Add(1)
//
//	p95, err := reg.Value("post_duration", "p(95)")
//
// # Builtin request metrics
//
// Every HTTP call is also fed to the registry's [Collector], an HDR-histogram
// backed recorder with a per-step breakdown. It is exposed under the builtin
// names http_reqs, http_req_failed and http_req_duration.
//
// # Percentiles
//
// [Trend] percentiles use the nearest-rank convention: pN is the smallest
// recorded sample such that at least N percent of all samples are less than
// or equal to it. For 95 samples of 100ms and 5 of 1000ms, p(95) is 100ms.
// Builtin http_req_duration percentiles come from the histogram and carry
// its three-significant-figure precision.
//
// # Thread Safety
//
// Counters are lock-free. Rates and Trends guard their state with a
// per-metric mutex, and the Collector with its own. Reads never mutate
// recorded data, so thresholds may poll a live registry.
package metrics

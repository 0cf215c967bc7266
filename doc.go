// Package webmonitor is a client-side telemetry SDK that forwards uncaught
// errors and web performance metrics (FCP, CLS, LCP, TTFB, INP) to a
// caller supplied uploader.
//
// Design goals:
//   - One payload per error event or metric record, never batched or retried
//   - Uploads are fire and forget; the uploader owns transport and failures
//   - Per-metric configuration is either a toggle or an enabled flag with options
//   - Signal sources are interfaces, so browsers (wasm) and Go hosts plug in alike
//
// Basic usage:
//
//	hub := webmonitor.NewHub(logger)
//	config := webmonitor.DefaultConfig(hub)
//	config.CustomUploader = webmonitor.WriterUploader(os.Stdout)
//	config.PerformanceMetrics[webmonitor.TTFB] = webmonitor.Tune(true,
//	  webmonitor.Options{"reportAllChanges": true})
//
//	if err := webmonitor.Init(config); err != nil {
//	  log.Fatal(err)
//	}
//
//	defer hub.Recover()
//	hub.Report(webmonitor.Metric{Name: "LCP", Value: 1830})
package webmonitor

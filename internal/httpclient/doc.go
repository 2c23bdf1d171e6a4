// Package httpclient sends workflow requests to the target API.
//
// [NewClient] builds an *http.Client tuned for load generation: generous
// connection pooling, keep-alives and a per-request timeout. [Transport] wraps
// such a client and implements workflow.Transport, adding the configured
// default headers and the auth provider's Authorization header to every call:
//
//	tr, err := httpclient.NewTransport(httpclient.NewClient(30*time.Second), cfg.Headers, auth.FromConfig(cfg.Auth))
//	if err != nil {
//		return err
//	}
//	exec, err := workflow.New(wcfg, tr, ids, registry)
//
// Response bodies are read up to 1 MiB; the reported duration spans from
// sending the request to the end of the body.
package httpclient

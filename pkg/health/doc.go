/*
Package health provides readiness probes for the host runtime's endpoints.

A Checker runs one probe and reports a Result. WaitHealthy polls a checker
on a ticker until it succeeds or the context ends; the process host uses it
with a TCPChecker on the admin port before handing the port to callers.

	checker := health.NewLoopbackChecker(adminPort)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := health.WaitHealthy(ctx, checker, 100*time.Millisecond); err != nil {
		return err
	}
*/
package health

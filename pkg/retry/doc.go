// Package retry retries an operation with exponential backoff.
//
// Errors classified as invalid or fatal by the errors package stop the loop
// immediately; any other error is treated as worth another attempt. Delays
// come from a k8s.io/utils clock so tests can drive them with a fake one.
//
//	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func(ctx context.Context) (*natsclient.Client, error) {
//	    return dial(ctx)
//	})
package retry
